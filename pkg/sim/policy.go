package sim

import (
	"github.com/manyworlds/continuum/pkg/config"
	"github.com/manyworlds/continuum/pkg/sim/neural"
)

// defaultHiddenLayers sizes the policy network when the caller does not
// supply a trained one.
var defaultHiddenLayers = []int{32, 32}

// DefaultNetwork builds a seed-initialized policy network sized for the
// engine's observation vector and the given action space. The weights are
// Xavier noise derived from the seed, so two runs with the same seed use
// identical networks.
func DefaultNetwork(seed int64, space *config.ActionSpaceConfig) (*neural.Network, error) {
	net, err := neural.NewNetwork(neuralObsWidth, defaultHiddenLayers, len(space.Actions))
	if err != nil {
		return nil, err
	}
	net.InitXavier(seed)
	return net, nil
}
