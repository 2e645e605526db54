package localio

// ModelSpec is the channel layout of a remote I/O card type.
type ModelSpec struct {
	Name string `json:"name"`
	DI   int    `json:"di"`
	DO   int    `json:"do"`
	AI   int    `json:"ai"`
	AO   int    `json:"ao"`
}

var ModelTable = map[string]ModelSpec{
	"IO0404": {Name: "IO0404", DI: 0, DO: 0, AI: 4, AO: 4},
	"IO0440": {Name: "IO0440", DI: 0, DO: 4, AI: 4, AO: 0},
	"IO4040": {Name: "IO4040", DI: 4, DO: 4, AI: 0, AO: 0},
	"IO8000": {Name: "IO8000", DI: 8, DO: 0, AI: 0, AO: 0},
	"IO0080": {Name: "IO0080", DI: 0, DO: 8, AI: 0, AO: 0},
}

const unknownModel = "Unknown"

// Analog output ranges as stored in the AO type registers.
const (
	AOVoltage = "0-10V"
	AOCurrent = "4-20mA"
)

// guessModel maps probed channel counts to a model name.
func guessModel(di, do, ai, ao int) string {
	for name, spec := range ModelTable {
		if spec.DI == di && spec.DO == do && spec.AI == ai && spec.AO == ao {
			return name
		}
	}
	return unknownModel
}
