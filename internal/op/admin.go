package op

import "github.com/google/uuid"

type PauseSet struct {
	OpID     uuid.UUID
	Caller   uuid.UUID
	Paused   bool
	Sequence int64
	Time     int64
}

func (p *PauseSet) IdempotencyKey() string { return p.OpID.String() }
func (p *PauseSet) OpType() OpType         { return OpTypePauseSet }
func (p *PauseSet) Account() *uuid.UUID    { return nil }
func (p *PauseSet) SourceSequence() int64  { return p.Sequence }
func (p *PauseSet) At() int64              { return p.Time }
