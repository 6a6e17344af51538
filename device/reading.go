package device

import (
  "fmt"
  "time"
)

// Reading is a temperature notification as received, kept as opaque text.
type Reading struct {
  Text string
  ReceivedAt time.Time
}

func (r Reading) String() string {
  return fmt.Sprintf("Reading[Text=%q,ReceivedAt=%v]", r.Text, r.ReceivedAt.Format(time.RFC3339))
}
