// Package mqtt subscribes to broker activity topics and forwards
// matching messages to the event bus, where the activity recorder
// folds them into the recent-activity picture. The connection is
// managed by Eclipse Paho v2's [autopaho] package: it reconnects and
// resubscribes on its own, and an availability topic with a broker
// will flips to "offline" on an unclean exit.
//
// The inbound path is rate limited. A chatty statestream can produce
// hundreds of messages per second during scene changes; messages over
// the configured rate are counted and dropped rather than queued.
package mqtt
