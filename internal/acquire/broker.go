package acquire

import (
	"context"
	"fmt"

	"github.com/hbomb79/Vidra/internal/session"
	"github.com/hbomb79/Vidra/internal/tiktok"
)

// managerBroker adapts the session manager to the SessionBroker the
// coordinator consumes.
type managerBroker struct {
	manager *session.Manager
}

func NewSessionBroker(manager *session.Manager) SessionBroker {
	return &managerBroker{manager: manager}
}

func (broker *managerBroker) Current() (UpstreamSession, error) {
	handle, err := broker.manager.Current()
	if err != nil {
		return nil, err
	}

	return handle, nil
}

func (broker *managerBroker) Recover(ctx context.Context, failed UpstreamSession) (UpstreamSession, error) {
	failedHandle, ok := failed.(*tiktok.Session)
	if !ok {
		return nil, fmt.Errorf("cannot recover session: handle is not an upstream session")
	}

	handle, err := broker.manager.Recover(ctx, failedHandle)
	if err != nil {
		return nil, err
	}

	return handle, nil
}
