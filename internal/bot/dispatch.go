package bot

import (
	"sync"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// dispatcher keeps one worker per sender. Updates arriving while a sender's
// worker is busy are queued behind it.
type dispatcher struct {
	handle func(tgbotapi.Update)

	mu      sync.Mutex
	pending map[int64][]tgbotapi.Update
}

func newDispatcher(handle func(tgbotapi.Update)) *dispatcher {
	return &dispatcher{handle: handle, pending: make(map[int64][]tgbotapi.Update)}
}

// enqueue reports whether the caller must start a worker for key. When false
// the update was queued for the running worker.
func (d *dispatcher) enqueue(key int64, u tgbotapi.Update) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if queue, busy := d.pending[key]; busy {
		d.pending[key] = append(queue, u)
		return false
	}
	d.pending[key] = nil
	return true
}

// drain handles first and then whatever queued up for key meanwhile.
func (d *dispatcher) drain(key int64, first tgbotapi.Update) {
	u := first
	for {
		d.handle(u)

		d.mu.Lock()
		queue := d.pending[key]
		if len(queue) == 0 {
			delete(d.pending, key)
			d.mu.Unlock()
			return
		}
		u = queue[0]
		d.pending[key] = queue[1:]
		d.mu.Unlock()
	}
}

// senderOf picks the user an update belongs to. Updates without one share
// key 0.
func senderOf(u tgbotapi.Update) int64 {
	switch {
	case u.Message != nil && u.Message.From != nil:
		return u.Message.From.ID
	case u.ChatMember != nil && u.ChatMember.NewChatMember.User != nil:
		return u.ChatMember.NewChatMember.User.ID
	}
	return 0
}
