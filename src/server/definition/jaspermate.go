package definition

import (
	"fmt"
	"log"

	"sysworxx-io/src/server/device"
	"sysworxx-io/src/server/hal"
	"sysworxx-io/src/server/localio"
)

// jaspermate exposes the channels of the Modbus RTU cards on the local bus,
// card by card in configuration order. Cards are read while loading so
// the channel layout is known; cards of unknown type are left out.
func jaspermate(env Env) device.Definition {
	cfg := env.Modbus
	port := cfg.Port
	if port == "" {
		port = localio.DefaultPort
	}
	bus := localio.NewBus(port, cfg.BaudRate)

	var cards []localio.Card
	modes := make(map[byte][]string)
	for _, c := range cfg.Cards {
		card, err := bus.AddCard(c.Slave, c.Module)
		if err != nil {
			log.Printf("jaspermate: card %d (%s): %v", c.Slave, c.Module, err)
			continue
		}
		cards = append(cards, card)
		modes[c.Slave] = c.AOModes
	}
	if len(cfg.Cards) == 0 && cfg.Discover > 0 {
		n := bus.Discover(cfg.Discover)
		log.Printf("jaspermate: discovered %d cards on %s", n, port)
		cards = bus.Cards()
	}

	var def device.Definition
	for _, card := range cards {
		spec := localio.ModelTable[card.Module]
		slave := card.SlaveID
		for i := range spec.DI {
			def.Inputs = append(def.Inputs, hal.LabeledDI(fmt.Sprintf("S%d.DI%d", slave, i), bus.DI(slave, i)))
		}
		for i := range spec.DO {
			def.Outputs = append(def.Outputs, hal.LabeledDO(fmt.Sprintf("S%d.DO%d", slave, i), bus.DO(slave, i)))
		}
		for i := range spec.AI {
			def.AnalogInputs = append(def.AnalogInputs, hal.LabeledAI(fmt.Sprintf("S%d.AI%d", slave, i), bus.AI(slave, i)))
		}
		for i := range spec.AO {
			var mode string
			if m := modes[slave]; i < len(m) {
				mode = m[i]
			}
			def.AnalogOutputs = append(def.AnalogOutputs, hal.LabeledAO(fmt.Sprintf("S%d.AO%d", slave, i), bus.AO(slave, i, mode)))
		}
	}
	def.Services = []hal.Service{bus}
	return def
}
