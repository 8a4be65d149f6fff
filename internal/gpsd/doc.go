// Package gpsd is a client for the gpsd location daemon.
//
// It owns one TCP session to the daemon, arms a watch mode (JSON reports,
// NMEA sentences or raw hex dumps), decodes each received frame into a
// Record and fans out categorical change signals to subscribers.
//
// The decoded state lives in two copies: a live Record mutated by every read
// and an exposed Record published only after a complete, unfiltered read.
// Callers only ever see the exposed copy.
package gpsd
