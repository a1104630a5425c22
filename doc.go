// Package goimap is a client library for the IMAP4rev1 message access
// protocol (RFC 3501) and its widely deployed extensions: STARTTLS,
// IDLE, COMPRESS=DEFLATE, CONDSTORE/QRESYNC, UIDPLUS, MOVE, BINARY,
// SASL authentication (PLAIN, LOGIN, OAUTHBEARER, XOAUTH2), and the
// Gmail X-GM-EXT-1 extensions.
//
// Dial establishes a connection and drives it through greeting,
// optional STARTTLS, authentication, and capability negotiation,
// returning a ready-to-use *Client. Client's operations — SelectMailbox,
// Fetch, Search, Store, Append, Download, and the mailbox CRUD
// operations — each issue one blocking round trip; unsolicited server
// pushes (new messages, expunges, flag changes) surface through the
// Events callbacks registered in DialOptions instead of interrupting
// whichever operation is in flight.
//
// A single Client must not be used concurrently from goroutines that
// both expect to observe each other's ordering on the wire; the
// underlying scheduler serializes commands, but issuing two logically
// dependent commands from different goroutines races on which one the
// server sees first. Read-only fan-out (concurrent Fetch/Search calls
// against a stable mailbox) is safe.
package goimap
