package worker

import (
	"context"
	"time"
)

// maxPeerFailures is the number of failed connection attempts in a row
// after which a peer is forgotten.
const maxPeerFailures = 5

// dialTimeout bounds a single connection attempt.
const dialTimeout = 10 * time.Second

// peerOperations keeps the node connected to the known peers.
func (w *Worker) peerOperations() {
	w.evHandler("worker: peerOperations: G started")
	defer w.evHandler("worker: peerOperations: G completed")

	for {
		select {
		case <-w.peerTicker.C:
			if !w.isShutdown() {
				w.runPeersOperation()
			}
		case <-w.peerUpdates:
			if !w.isShutdown() {
				w.runPeersOperation()
			}
		case <-w.shut:
			w.evHandler("worker: peerOperations: received shut signal")
			return
		}
	}
}

// runPeersOperation dials the known peers the node isn't connected to.
func (w *Worker) runPeersOperation() {
	w.evHandler("worker: runPeersOperation: started")
	defer w.evHandler("worker: runPeersOperation: completed")

	for _, peer := range w.peers.Copy(w.host) {
		if w.isShutdown() {
			return
		}

		if w.dialer.IsConnected(peer.Host) {
			continue
		}

		ctx, cancel := context.WithTimeout(context.Background(), dialTimeout)
		err := w.dialer.Dial(ctx, peer.Host)
		cancel()

		if err != nil {
			failures := w.peers.Fail(peer)
			w.evHandler("worker: runPeersOperation: dial: %s: failures[%d]: ERROR: %s", peer.Host, failures, err)

			if failures >= maxPeerFailures {
				w.evHandler("worker: runPeersOperation: removing peer %s", peer.Host)
				w.peers.Remove(peer)
			}
			continue
		}

		w.peers.Succeed(peer)
		w.evHandler("worker: runPeersOperation: connected to peer %s", peer.Host)
	}
}
