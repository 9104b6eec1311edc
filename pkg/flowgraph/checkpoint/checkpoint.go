package checkpoint

import (
	"encoding/json"
	"time"
)

// Version is the record format. Version 2 keeps one record per thread,
// overwritten after every node, and adds Suspended.
const Version = 2

// Checkpoint is a thread's latest position: the node that just ran, the
// node to run next and the serialized state between them.
type Checkpoint struct {
	Version   int       `json:"version"`
	ThreadID  string    `json:"thread_id"`
	NodeID    string    `json:"node_id"`
	Sequence  int       `json:"sequence"`
	Timestamp time.Time `json:"timestamp"`

	State    json.RawMessage `json:"state"`
	NextNode string          `json:"next_node"`

	// Suspended means NextNode is an interrupt point waiting on input.
	Suspended bool `json:"suspended,omitempty"`

	Attempt    int    `json:"attempt"`
	PrevNodeID string `json:"prev_node_id,omitempty"`
}

// New records that nodeID finished with the given JSON state.
func New(threadID, nodeID string, sequence int, state []byte, nextNode string) *Checkpoint {
	return &Checkpoint{
		Version:   Version,
		ThreadID:  threadID,
		NodeID:    nodeID,
		Sequence:  sequence,
		Timestamp: time.Now().UTC(),
		State:     state,
		NextNode:  nextNode,
		Attempt:   1,
	}
}

func (c *Checkpoint) WithAttempt(attempt int) *Checkpoint {
	c.Attempt = attempt
	return c
}

func (c *Checkpoint) WithPrevNode(id string) *Checkpoint {
	c.PrevNodeID = id
	return c
}

// AsSuspended marks the record as parked before NextNode.
func (c *Checkpoint) AsSuspended() *Checkpoint {
	c.Suspended = true
	return c
}

func (c *Checkpoint) Marshal() ([]byte, error) {
	return json.Marshal(c)
}

// Unmarshal decodes a stored record. Version checks are left to callers.
func Unmarshal(data []byte) (*Checkpoint, error) {
	c := new(Checkpoint)
	if err := json.Unmarshal(data, c); err != nil {
		return nil, err
	}
	return c, nil
}
