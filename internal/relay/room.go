package relay

import (
	"context"
	"log"
	"sync"
	"time"

	"collabtext/internal/crdt"
	"collabtext/internal/presence"
	"collabtext/internal/wire"
)

const shutdownTimeout = 10 * time.Second

// room is one document served by this relay instance.
type room struct {
	name   string
	broker Broker
	doc    *crdt.Doc
	sub    Subscription
	saver  *saver

	mu        sync.Mutex // protects conns, awareness and conn.ready
	conns     map[*conn]struct{}
	awareness map[uint32]presence.Update

	closing bool // guarded by Server.mu
	stop    chan struct{}
	stopped chan struct{}
	closed  chan struct{}
	err     error
}

func (r *room) add(c *conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.conns[c] = struct{}{}
}

// remove drops c and reports whether the room is now empty.
func (r *room) remove(c *conn) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.conns, c)
	c.closeSend()
	return len(r.conns) == 0
}

// sync sends the room state and known presence to c, then lets updates
// through to it.
func (r *room) sync(c *conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.conns[c]; !ok {
		return
	}
	buf, err := wire.Encode(wire.Sync(r.doc.EncodeState()))
	if err != nil {
		log.Printf("relay: %s: %v", r.name, err)
		return
	}
	c.deliver(buf)
	client, _ := c.clientID()
	for id, a := range r.awareness {
		if id == client {
			continue
		}
		buf, err := wire.Encode(wire.AwarenessMsg(a))
		if err != nil {
			continue
		}
		c.deliver(buf)
	}
	c.ready = true
}

func (r *room) publish(msg wire.Message) error {
	buf, err := wire.Encode(msg)
	if err != nil {
		return err
	}
	return r.broker.Publish(context.Background(), r.name, buf)
}

// publishLeave tells every instance that client is gone.
func (r *room) publishLeave(client uint32) {
	r.mu.Lock()
	last, ok := r.awareness[client]
	r.mu.Unlock()
	if !ok {
		return
	}
	leave := presence.Update{Client: client, Clock: last.Clock + 1}
	if err := r.publish(wire.AwarenessMsg(leave)); err != nil {
		log.Printf("relay: %s: %v", r.name, err)
	}
}

func (r *room) pump() {
	defer close(r.stopped)
	for {
		select {
		case buf, ok := <-r.sub.Messages():
			if !ok {
				return
			}
			r.handle(buf)
		case <-r.stop:
			return
		}
	}
}

func (r *room) handle(buf []byte) {
	msg, err := wire.Decode(buf)
	if err != nil {
		log.Printf("relay: %s: %v", r.name, err)
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	switch msg.Type {
	case wire.TypeUpdate:
		if err := r.doc.ApplyUpdate(*msg.Update); err != nil {
			log.Printf("relay: %s: %v", r.name, err)
			return
		}
	case wire.TypeAwareness:
		a := *msg.Awareness
		if a.State == nil {
			delete(r.awareness, a.Client)
		} else {
			r.awareness[a.Client] = a
		}
	default:
		return
	}
	for c := range r.conns {
		if !c.ready || c.id == msg.Conn {
			continue
		}
		c.deliver(buf)
	}
}

// shutdown stops the pump, saves pending changes and releases the document.
func (r *room) shutdown() error {
	close(r.stop)
	<-r.stopped
	if err := r.sub.Close(); err != nil {
		log.Printf("relay: %s: %v", r.name, err)
	}
	if r.saver != nil {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		r.err = r.saver.flush(ctx)
	}
	r.doc.Destroy()
	return r.err
}

func (r *room) dropAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for c := range r.conns {
		c.ws.Close()
	}
}

func (r *room) wait() error {
	<-r.closed
	return r.err
}
