// Package email sends plain-text transactional messages.
//
// Production uses Postmark; development uses LogSender, which writes the
// message to the structured log instead of the network.
package email
