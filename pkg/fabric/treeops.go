package fabric

import (
	"context"
	"fmt"

	"github.com/tonyhutter/scr/pkg/attr"
)

// BroadcastTree broadcasts an attribute tree from rank 0 to every rank,
// per spec.md §4.1 "broadcast (rank 0 → all)". Non-zero ranks pass nil.
func BroadcastTree(ctx context.Context, f Fabric, t *attr.Tree) (*attr.Tree, error) {
	var payload []byte
	if f.Rank() == 0 {
		b, err := attr.Marshal(t)
		if err != nil {
			return nil, fmt.Errorf("fabric: marshal tree for broadcast: %w", err)
		}
		payload = b
	}
	received, err := f.Broadcast(ctx, payload)
	if err != nil {
		return nil, fmt.Errorf("fabric: broadcast: %w", err)
	}
	out, err := attr.Unmarshal(received)
	if err != nil {
		return nil, fmt.Errorf("fabric: unmarshal broadcast tree: %w", err)
	}
	return out, nil
}

// ExchangeTrees routes a mapping {rank -> subtree}, built on rank 0, so
// each rank receives only its own subtree (spec.md §4.1 "exchange ...
// over the fabric"). Non-zero ranks pass a nil map.
func ExchangeTrees(ctx context.Context, f Fabric, toRank map[int]*attr.Tree) (*attr.Tree, error) {
	var payload map[int][]byte
	if f.Rank() == 0 {
		payload = make(map[int][]byte, len(toRank))
		for rank, t := range toRank {
			b, err := attr.Marshal(t)
			if err != nil {
				return nil, fmt.Errorf("fabric: marshal tree for exchange (rank %d): %w", rank, err)
			}
			payload[rank] = b
		}
	}
	received, err := f.Exchange(ctx, payload)
	if err != nil {
		return nil, fmt.Errorf("fabric: exchange: %w", err)
	}
	mine := received[0] // sender is always rank 0 for this exchange
	return attr.Unmarshal(mine)
}
