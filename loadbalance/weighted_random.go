package loadbalance

import (
	"math/rand/v2"

	"devtools-rpc/discovery"
)

// WeightedRandomBalancer picks an instance with probability proportional to
// its weight. Weights below 1 count as 1.
type WeightedRandomBalancer struct{}

func weight(inst discovery.Instance) int {
	return max(inst.Weight, 1)
}

func (b *WeightedRandomBalancer) Pick(instances []discovery.Instance) (*discovery.Instance, error) {
	if len(instances) == 0 {
		return nil, ErrNoInstances
	}

	// 计算总权重
	totalWeight := 0
	for _, v := range instances {
		totalWeight += weight(v)
	}

	// 生成一个随机数，范围是0到总权重
	r := rand.IntN(totalWeight)
	for i := range instances {
		r -= weight(instances[i])
		if r < 0 {
			return &instances[i], nil
		}
	}
	return &instances[len(instances)-1], nil
}

func (b *WeightedRandomBalancer) Name() string {
	return "WeightedRandom"
}
