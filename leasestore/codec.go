package leasestore

import (
	"cmp"
	"encoding/json"
	"fmt"
	"slices"

	"github.com/arloliu/changefeed/types"
)

func encodeLease(lease types.Lease) ([]byte, error) {
	data, err := json.Marshal(lease)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal lease %s: %w", lease.PartitionID, err)
	}

	return data, nil
}

func decodeLease(data []byte, version uint64) (types.Lease, error) {
	var lease types.Lease
	if err := json.Unmarshal(data, &lease); err != nil {
		return types.Lease{}, fmt.Errorf("failed to unmarshal lease: %w", err)
	}
	lease.Version = version

	return lease, nil
}

func sortLeases(leases []types.Lease) {
	slices.SortFunc(leases, func(a, b types.Lease) int {
		return cmp.Compare(a.PartitionID, b.PartitionID)
	})
}
