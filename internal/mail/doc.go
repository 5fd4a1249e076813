// Package mail renders and delivers the messages produced by the monitor
// core.
//
// Templates are embedded text/template files. Each template renders a
// "Subject:" line, an empty line and the body. Delivery goes through a
// Transport: SMTPTransport for production, MockTransport for tests.
package mail
