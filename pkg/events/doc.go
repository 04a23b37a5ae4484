/*
Package events is an in-process publish/subscribe broker for the store's
commit notifications.

A Source's ChangedFunc can be wired directly to a Broker via
PublishChanged, so that every flushed sink with a non-empty delta reaches
any number of subscribers — a metrics collector incrementing commit
counters, a background compaction scheduler deciding whether there is new
garbage to collect, or a CLI watching for activity.

Subscribers receive events on a buffered channel; a slow subscriber drops
events rather than blocking the publisher, since commit notification is
advisory, not a delivery guarantee.
*/
package events
