// Package crawler holds the shared vocabulary of the listing crawler: the
// adapter contract, listing and source records, the failure taxonomy, and the
// retry policy that wraps every adapter operation. Concrete engines, stores
// and browsers live in sibling packages and depend only on these interfaces.
package crawler
