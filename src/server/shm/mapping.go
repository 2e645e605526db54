package shm

// Kind selects the value table a group publishes into.
type Kind int

const (
	AnalogInputs Kind = iota
	TempInputs
)

func (k Kind) String() string {
	if k == TempInputs {
		return "temperature"
	}
	return "analog"
}

// Group binds the notification channel of one sampler to the device
// channels it feeds. Channel indices are both facade and table indices.
type Group struct {
	Notify   <-chan struct{}
	Kind     Kind
	Channels []int
}

type Mappings struct {
	Groups []Group
}
