package server

import (
	mapset "github.com/deckarep/golang-set/v2"
)

// fanOut sends msg to every participant whose userID is not in exclude and
// whose connection is still open. Nothing is ever buffered for a closed
// connection; presence traffic is self-healing because each movement is
// rebroadcast in full, not as a delta.
func fanOut(participants map[string]*presenceRecord, exclude mapset.Set[string], msg ServerMessage) {
	data := msg.Encode()
	for userID, rec := range participants {
		if exclude != nil && exclude.Contains(userID) {
			continue
		}
		if !rec.client.Open() {
			continue
		}
		rec.client.sendRaw(data)
	}
}
