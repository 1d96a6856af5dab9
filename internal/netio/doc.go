// Package netio provides the TCP listener for tracker device connections.
//
// The Linux implementation sets SO_REUSEADDR and TCP_USER_TIMEOUT on the
// listening socket via golang.org/x/sys/unix; accepted sockets inherit both.
package netio
