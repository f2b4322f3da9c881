package subscribe

import (
	"context"
	"encoding/json"

	"github.com/GPTx-global/flightsurety/oracle/log"
	"github.com/GPTx-global/flightsurety/oracle/types"
)

// LogEvent writes ev to the log as a block. It is registered for every kind
// so operators can follow the ledger from the relay output.
func LogEvent(_ context.Context, ev types.Event) {
	bz, err := json.MarshalIndent(ev, "", "  ")
	if err != nil {
		log.Warnf("failed to encode %s event: %v", ev.Kind(), err)
		return
	}

	log.Infof("**** EVENT ****\n%s\n%s", ev.Kind(), bz)
}
