package contracts

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"

	"memberhub-backend/workflow"
)

// Treasury distributes reward tokens from the treasury account. It
// implements workflow.RewardDistributor over standard ERC20 transfers; the
// token contract address comes from the event's reward spec.
type Treasury struct {
	client  *ethclient.Client
	key     *ecdsa.PrivateKey
	chainID *big.Int
	abi     abi.ABI
}

// ERC20 transfer function ABI
const erc20ABI = `[{"inputs":[{"internalType":"address","name":"to","type":"address"},{"internalType":"uint256","name":"amount","type":"uint256"}],"name":"transfer","outputs":[{"internalType":"bool","name":"","type":"bool"}],"stateMutability":"nonpayable","type":"function"}]`

func NewTreasury(client *ethclient.Client, treasuryKeyHex string, chainID int64) (*Treasury, error) {
	parsedABI, err := abi.JSON(strings.NewReader(erc20ABI))
	if err != nil {
		return nil, fmt.Errorf("failed to parse ERC20 ABI: %w", err)
	}

	key, err := crypto.HexToECDSA(strings.TrimPrefix(treasuryKeyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("failed to parse treasury key: %w", err)
	}

	return &Treasury{
		client:  client,
		key:     key,
		chainID: big.NewInt(chainID),
		abi:     parsedABI,
	}, nil
}

// Distribute sends the configured reward amount to the destination wallet.
func (t *Treasury) Distribute(ctx context.Context, req workflow.DistributeRequest) (*workflow.DistributeResult, error) {
	if !common.IsHexAddress(req.TokenID) {
		return nil, fmt.Errorf("invalid reward token address: %s", req.TokenID)
	}
	if !common.IsHexAddress(req.Destination) {
		return nil, fmt.Errorf("invalid destination address: %s", req.Destination)
	}

	callData, err := t.abi.Pack("transfer", common.HexToAddress(req.Destination), big.NewInt(req.Amount))
	if err != nil {
		return nil, fmt.Errorf("failed to pack transfer call data: %w", err)
	}

	txHash, err := signAndSend(ctx, t.client, t.key, t.chainID, common.HexToAddress(req.TokenID), callData)
	if err != nil {
		return &workflow.DistributeResult{Success: false, Message: err.Error()}, nil
	}

	return &workflow.DistributeResult{Success: true, TxID: txHash}, nil
}
