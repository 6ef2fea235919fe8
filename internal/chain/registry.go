package chain

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/SafeMPC/stealth-sap/internal/types"
)

// RegistryReader 注册合约只读接口
type RegistryReader interface {
	GetKeys(ctx context.Context, owner common.Address) (*types.RegistrationWords, error)
	// RegistrationBlock 返回最后一次 KeyChanged 事件所在区块，未注册时 ok 为 false
	RegistrationBlock(ctx context.Context, owner common.Address) (block uint64, ok bool, err error)
}

// Registry 注册合约
type Registry struct {
	reader  Reader
	address common.Address
}

var _ RegistryReader = (*Registry)(nil)

func NewRegistry(reader Reader, address common.Address) *Registry {
	return &Registry{reader: reader, address: address}
}

func (r *Registry) Address() common.Address {
	return r.address
}

// GetKeys 读取注册数据
func (r *Registry) GetKeys(ctx context.Context, owner common.Address) (*types.RegistrationWords, error) {
	data, err := registryABI.Pack("getKeys", owner)
	if err != nil {
		return nil, errors.Wrap(err, "failed to pack getKeys")
	}
	raw, err := r.reader.Call(ctx, r.address, data)
	if err != nil {
		return nil, err
	}
	out, err := registryABI.Unpack("getKeys", raw)
	if err != nil {
		return nil, errors.Wrap(err, "failed to unpack getKeys")
	}
	if len(out) != 3 {
		return nil, errors.Errorf("unexpected getKeys output length %d", len(out))
	}

	words := &types.RegistrationWords{}
	for i, dst := range []*[]types.Word{&words.OpPublicKey, &words.EncPublicKey, &words.CipherText} {
		v, ok := out[i].([][32]byte)
		if !ok {
			return nil, errors.Errorf("unexpected getKeys output type %T", out[i])
		}
		*dst = v
	}
	return words, nil
}

// RegistrationBlock 查询注册区块
func (r *Registry) RegistrationBlock(ctx context.Context, owner common.Address) (uint64, bool, error) {
	latest, err := r.reader.GetBlockNumber(ctx)
	if err != nil {
		return 0, false, err
	}
	logs, err := r.reader.QueryEvents(ctx, r.address, []common.Hash{KeyChangedTopic, AddressTopic(owner)}, 0, latest)
	if err != nil {
		return 0, false, err
	}
	if len(logs) == 0 {
		log.Debug().Str("owner", owner.Hex()).Msg("No KeyChanged event found")
		return 0, false, nil
	}
	return logs[len(logs)-1].BlockNumber, true, nil
}

// PackSetKeys 构造 setKeys 调用数据
func PackSetKeys(words *types.RegistrationWords) ([]byte, error) {
	if words == nil {
		return nil, errors.New("registration words are required")
	}
	data, err := registryABI.Pack("setKeys", words.OpPublicKey, words.EncPublicKey, words.CipherText)
	if err != nil {
		return nil, errors.Wrap(err, "failed to pack setKeys")
	}
	return data, nil
}
