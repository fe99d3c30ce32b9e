// Package event is the in-process event bus jobs report through.
//
// Two kinds of listener exist. Listeners registered with On run inline
// inside Emit, in registration order, and see every event. Channels from
// Subscribe are best effort: an event is dropped for a subscriber whose
// buffer is full so a slow reader never stalls job processing.
//
// The name "*" matches every event.
package event
