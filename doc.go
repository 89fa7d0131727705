// Package backtest simulates the multi-year evolution of an ETF portfolio under periodic
// rebalancing, scheduled withdrawals, dividend income and a two-tier tax regime.
//
// The building blocks are:
//   - Market data: closing prices and dividends per symbol, supplied by a [Provider].
//     Sub-packages implement providers over remote APIs, a Postgres store and a Redis cache.
//   - Tax ledger: dividend tax withheld on receipt, capital-gains tax computed per calendar
//     year after an exemption and paid the following year.
//   - Holdings: cash, shares and weighted-average cost basis, mutated by the engine only.
//   - Engine: the day-by-day simulation over the trading days of a window, triggered by
//     quarterly or yearly rebalance boundaries.
//   - Result: event logs, monthly snapshots, performance statistics and annual rollups.
//
// A run is a pure function of a [Config] and the market data: two runs never share state,
// which is what [Compare] relies on to run candidates in parallel.
package backtest
