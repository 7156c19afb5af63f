package crdt

// LWWRegister holds a last-writer-wins value with its causal tag, per
// spec §4.3. Ties on equal lamport are broken by the lexicographically
// larger writer id, then by the larger dot seq (spec §3).
type LWWRegister struct {
	Value     interface{}
	Lamport   uint64
	Writer    string
	Dot       Dot
	hasValue  bool
}

// LWWResult reports whether Update was accepted, matching the
// applied/superseded vocabulary spec §4.6 requires from the reducer.
type LWWResult int

const (
	LWWApplied LWWResult = iota
	LWWSuperseded
)

// wins reports whether (lamport, writer, seq) strictly beats the
// incumbent tuple, per spec §4.3's tie-break rule.
func wins(lamport uint64, writer string, seq uint64, incumbent LWWRegister) bool {
	if !incumbent.hasValue {
		return true
	}
	if lamport != incumbent.Lamport {
		return lamport > incumbent.Lamport
	}
	if writer != incumbent.Writer {
		return writer > incumbent.Writer
	}
	return seq > incumbent.Dot.Seq
}

// Update applies a candidate value if it wins the tie-break against the
// register's current contents.
func (r *LWWRegister) Update(value interface{}, lamport uint64, writer string, dot Dot) LWWResult {
	if !wins(lamport, writer, dot.Seq, *r) {
		return LWWSuperseded
	}
	r.Value = value
	r.Lamport = lamport
	r.Writer = writer
	r.Dot = dot
	r.hasValue = true
	return LWWApplied
}

// HasValue reports whether the register has ever been set.
func (r *LWWRegister) HasValue() bool { return r.hasValue }

// Clone returns a copy of the register.
func (r *LWWRegister) Clone() *LWWRegister {
	clone := *r
	return &clone
}
