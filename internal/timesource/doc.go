// Package timesource abstracts where the agent obtains epoch timestamps.
//
// SAS token expiries are computed from "now", so the clock feeding them
// must be at least roughly correct. The session layer queries a Source on
// connect and caches the result for reconnect extrapolation; this package
// only answers "what time is it".
package timesource
