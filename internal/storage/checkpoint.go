package storage

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"

	"github.com/SafeMPC/stealth-sap/internal/scan"
)

const checkpointPrefix = "sap:checkpoint:"

// RedisCheckpoints 扫描进度存储
type RedisCheckpoints struct {
	client *redis.Client
}

var _ scan.Checkpoints = (*RedisCheckpoints)(nil)

func NewRedisCheckpoints(client *redis.Client) *RedisCheckpoints {
	return &RedisCheckpoints{client: client}
}

func checkpointKey(owner common.Address, chainID uint64) string {
	return fmt.Sprintf("%s%d:%s", checkpointPrefix, chainID, owner.Hex())
}

// Get 返回最后扫描的区块，不存在时 ok 为 false
func (c *RedisCheckpoints) Get(ctx context.Context, owner common.Address, chainID uint64) (uint64, bool, error) {
	block, err := c.client.Get(ctx, checkpointKey(owner, chainID)).Uint64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, false, nil
		}
		return 0, false, errors.Wrap(err, "failed to get scan checkpoint")
	}
	return block, true, nil
}

// Set 保存最后扫描的区块
func (c *RedisCheckpoints) Set(ctx context.Context, owner common.Address, chainID uint64, block uint64) error {
	if err := c.client.Set(ctx, checkpointKey(owner, chainID), block, 0).Err(); err != nil {
		return errors.Wrap(err, "failed to set scan checkpoint")
	}
	return nil
}
