package link

import (
	"strconv"
	"strings"

	"github.com/voltscope/voltscope/pkg/model"
)

// parseLine decodes one newline-terminated instrument record of the form
// "<int>,<int>", both integers being raw 10-bit ADC counts. Lines that fail
// to parse, have the wrong field count, or carry out-of-range values are
// rejected; the caller discards them silently.
func parseLine(line string) (vertical, horizontal int, ok bool) {
	line = strings.TrimSpace(line)
	if line == "" {
		return 0, 0, false
	}

	fields := strings.Split(line, ",")
	if len(fields) != 2 {
		return 0, 0, false
	}

	v, err := strconv.Atoi(strings.TrimSpace(fields[0]))
	if err != nil {
		return 0, 0, false
	}
	h, err := strconv.Atoi(strings.TrimSpace(fields[1]))
	if err != nil {
		return 0, 0, false
	}

	if v < 0 || v > model.ADCMax || h < 0 || h > model.ADCMax {
		return 0, 0, false
	}
	return v, h, true
}
