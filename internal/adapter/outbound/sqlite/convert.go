package sqlite

import "github.com/Sentinel-Gate/Sentinelgate/internal/domain/policy"

func toAction(s string) policy.Action {
	return policy.Action(s)
}
