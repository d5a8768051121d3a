package hub

import "sync"

// messageBus is the in-process relay used by the mock transport. Channels are
// plain names; a broadcast fans out to every current subscriber of the
// channel, including the sender's own subscription. Messages published to a
// channel with no subscribers are held until the first subscriber arrives,
// matching the store-and-forward behavior of the real relay.
type messageBus struct {
	mu      sync.Mutex
	subs    map[string][]*busSubscriber
	mailbox map[string][][]byte
}

type busSubscriber struct {
	ch chan []byte
}

// subscriberBuffer bounds how far a slow consumer may lag before messages
// are dropped for it.
const subscriberBuffer = 64

var globalBus = newMessageBus()

func newMessageBus() *messageBus {
	return &messageBus{
		subs:    make(map[string][]*busSubscriber),
		mailbox: make(map[string][][]byte),
	}
}

// publish delivers payload to all subscribers of channel. Returns the number
// of subscribers reached and the number of drops due to full buffers.
func (b *messageBus) publish(channel string, payload []byte) (delivered, dropped int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	subs := b.subs[channel]
	if len(subs) == 0 {
		b.mailbox[channel] = append(b.mailbox[channel], payload)
		return 0, 0
	}
	for _, sub := range subs {
		select {
		case sub.ch <- payload:
			delivered++
		default:
			dropped++
		}
	}
	return delivered, dropped
}

// subscribe registers a new subscriber on channel. Pending mailbox messages
// are handed to the first subscriber that shows up.
func (b *messageBus) subscribe(channel string) *busSubscriber {
	b.mu.Lock()
	defer b.mu.Unlock()
	sub := &busSubscriber{ch: make(chan []byte, subscriberBuffer)}
	pending := b.mailbox[channel]
	delete(b.mailbox, channel)
	b.subs[channel] = append(b.subs[channel], sub)
	for _, payload := range pending {
		select {
		case sub.ch <- payload:
		default:
		}
	}
	return sub
}

func (b *messageBus) unsubscribe(channel string, sub *busSubscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	subs := b.subs[channel]
	for i, s := range subs {
		if s == sub {
			subs = append(subs[:i], subs[i+1:]...)
			// No publisher can reach sub once it is out of the slice, so the
			// channel close is safe here and ends consumer range loops.
			close(sub.ch)
			break
		}
	}
	if len(subs) == 0 {
		delete(b.subs, channel)
	} else {
		b.subs[channel] = subs
	}
}

func (b *messageBus) subscriberCount(channel string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs[channel])
}
