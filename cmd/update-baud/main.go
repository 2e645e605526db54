// update-baud writes a new line speed into the Modbus I/O cards of a
// jaspermate and reboots them. Cards leave the factory at 9600 baud.
//
// Usage:
//
//	update-baud -baud=115200
//	update-baud -port=/dev/ttyS7 -current=9600 -baud=115200 -slaves=1-3,5
//	update-baud -current=115200 -check
//
// The port defaults to the one the jaspermate definition uses.
package main

import (
	"flag"
	"fmt"
	"iter"
	"log"
	"strconv"
	"strings"
	"time"

	"sysworxx-io/src/server/localio"
)

// pause between requests so slow cards keep up
const delay = 5 * time.Millisecond

func main() {
	port := flag.String("port", localio.DefaultPort, "Serial port")
	currentBaud := flag.Int("current", 9600, "Line speed the cards use now")
	targetBaud := flag.Int("baud", localio.DefaultBaudRate, "Line speed to store in the cards")
	slavesFlag := flag.String("slaves", "1-5", "Slave IDs to try, as a list of IDs and ranges (e.g. 1,3-5)")
	check := flag.Bool("check", false, "Only print the stored line speed of each card")
	flag.Parse()

	slaves, err := parseSlaves(*slavesFlag)
	if err != nil {
		log.Fatalf("slaves: %v", err)
	}
	if *targetBaud <= 0 {
		log.Fatalf("baud must be positive, got %d", *targetBaud)
	}

	bus := localio.NewBus(*port, *currentBaud)
	if *check {
		for sid, baud := range survey(bus, slaves) {
			fmt.Printf("slave %d: %d baud\n", sid, baud)
		}
		bus.Stop()
		return
	}

	n := update(bus, slaves, *targetBaud)
	bus.Stop()
	if n == 0 {
		log.Fatalf("no cards updated (check port, current baud %d, and slave IDs)", *currentBaud)
	}
	fmt.Printf("Updated %d card(s) to %d baud; they switch after the reboot.\n", n, *targetBaud)
}

// baudWriter is the part of the bus update needs.
type baudWriter interface {
	ReadBaudRate(slave byte) (int, error)
	SetBaudRate(slave byte, baud int) error
	RebootSlave(slave byte) error
}

func update(bus baudWriter, slaves []byte, target int) int {
	updated := 0
	for _, sid := range slaves {
		current, err := bus.ReadBaudRate(sid)
		if err != nil {
			log.Printf("slave %d: not found or no response (%v)", sid, err)
			time.Sleep(delay)
			continue
		}
		time.Sleep(delay)

		if err := bus.SetBaudRate(sid, target); err != nil {
			log.Printf("slave %d: write baud failed: %v", sid, err)
			time.Sleep(delay)
			continue
		}
		time.Sleep(delay)

		if err := bus.RebootSlave(sid); err != nil {
			log.Printf("slave %d: reboot failed: %v", sid, err)
		} else {
			log.Printf("slave %d: baud %d -> %d, reboot sent", sid, current, target)
			updated++
		}
		time.Sleep(delay)
	}
	return updated
}

// survey returns the stored line speed of every answering slave, in the
// order given.
func survey(bus baudWriter, slaves []byte) iter.Seq2[byte, int] {
	return func(yield func(byte, int) bool) {
		for _, sid := range slaves {
			baud, err := bus.ReadBaudRate(sid)
			time.Sleep(delay)
			if err != nil {
				continue
			}
			if !yield(sid, baud) {
				return
			}
		}
	}
}

// parseSlaves accepts IDs and inclusive ranges separated by commas.
func parseSlaves(s string) ([]byte, error) {
	var out []byte
	for _, field := range strings.Split(s, ",") {
		field = strings.TrimSpace(field)
		if field == "" {
			continue
		}
		lo, hi, isRange := strings.Cut(field, "-")
		first, err := slaveID(lo)
		if err != nil {
			return nil, err
		}
		last := first
		if isRange {
			if last, err = slaveID(hi); err != nil {
				return nil, err
			}
			if last < first {
				return nil, fmt.Errorf("empty range %q", field)
			}
		}
		for id := int(first); id <= int(last); id++ {
			out = append(out, byte(id))
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no slave IDs")
	}
	return out, nil
}

func slaveID(s string) (byte, error) {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil || n < 1 || n > 247 {
		return 0, fmt.Errorf("invalid slave id %q", s)
	}
	return byte(n), nil
}
