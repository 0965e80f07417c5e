package protocol

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/voxlink-go/golive/pkg/core"
)

// Duration marshals as a seconds string ("8s", "0.5s"), the format the wire
// uses for goAway.timeLeft.
type Duration time.Duration

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// MarshalJSON implements json.Marshaler.
func (d Duration) MarshalJSON() ([]byte, error) {
	secs := time.Duration(d).Seconds()
	return json.Marshal(strconv.FormatFloat(secs, 'f', -1, 64) + "s")
}

// UnmarshalJSON implements json.Unmarshaler.
func (d *Duration) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return core.NewProtocolError("duration must be a string", err)
	}
	raw = strings.TrimSpace(raw)
	if !strings.HasSuffix(raw, "s") {
		return core.NewProtocolError(fmt.Sprintf("duration %q must end in 's'", raw), nil)
	}
	secs, err := strconv.ParseFloat(strings.TrimSuffix(raw, "s"), 64)
	if err != nil {
		return core.NewProtocolError(fmt.Sprintf("invalid duration %q", raw), err)
	}
	*d = Duration(time.Duration(secs * float64(time.Second)))
	return nil
}
