// Package proforma provides a simulation core for underwriting real
// estate investments. It models one deal as an append-only transaction
// ledger plus the engines that populate and read it, so that every
// number in the final analysis can be traced back to dated, tagged
// facts.
//
// The core functionalities include:
//   - Ledger Management: Recording every projected cash movement
//     (operating income, capital spending, debt draws, interest,
//     equity calls, distributions) as immutable records in a single
//     chronological ledger per analysis run.
//   - Debt Facilities: Sizing loans against value, coverage and yield
//     hurdles; accruing interest on realized balances; tranche draws
//     in strict seniority order; interest reserves, cash sweeps, and
//     construction-to-permanent refinancing.
//   - Funding Cascade: A sequential period-by-period engine that
//     reconciles what the project must spend against debt capacity and
//     equity calls, and posts the resolved flows to the ledger.
//   - Partnership Waterfall: Allocating distributable cash pari passu
//     or through a tiered promote structure with a compounding
//     preferred return and IRR-based hurdles.
//   - Deal Orchestration: A pipeline that validates the inputs, sizes
//     the debt, runs the cascade and the waterfall, and derives the
//     headline metrics (levered IRR, equity multiple, debt coverage)
//     from the finished ledger.
//
// Deals can be constructed in code or loaded from a YAML document; the
// result of a run is an Analysis holding the materialized ledger table
// and everything derived from it.
package proforma
