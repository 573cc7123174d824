package contracts

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"

	"memberhub-backend/workflow"
)

// MembershipToken wraps the membership NFT contract. It implements
// workflow.CredentialIssuer: mint issues a new serial to the operator
// account, transfer moves it on to the participant's wallet.
type MembershipToken struct {
	client   *ethclient.Client
	address  common.Address
	operator common.Address
	key      *ecdsa.PrivateKey
	chainID  *big.Int
	abi      abi.ABI
}

// Membership NFT ABI - only the functions we need
const membershipABI = `[
	{"inputs":[],"name":"nextSerial","outputs":[{"internalType":"uint256","name":"","type":"uint256"}],"stateMutability":"view","type":"function"},
	{"inputs":[{"internalType":"address","name":"to","type":"address"},{"internalType":"string","name":"metadataURI","type":"string"}],"name":"mint","outputs":[],"stateMutability":"nonpayable","type":"function"},
	{"inputs":[{"internalType":"address","name":"from","type":"address"},{"internalType":"address","name":"to","type":"address"},{"internalType":"uint256","name":"tokenId","type":"uint256"}],"name":"safeTransferFrom","outputs":[],"stateMutability":"nonpayable","type":"function"}
]`

func NewMembershipToken(client *ethclient.Client, address, operatorKeyHex string, chainID int64) (*MembershipToken, error) {
	parsedABI, err := abi.JSON(strings.NewReader(membershipABI))
	if err != nil {
		return nil, fmt.Errorf("failed to parse membership ABI: %w", err)
	}

	key, err := crypto.HexToECDSA(strings.TrimPrefix(operatorKeyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("failed to parse operator key: %w", err)
	}

	return &MembershipToken{
		client:   client,
		address:  common.HexToAddress(address),
		operator: crypto.PubkeyToAddress(key.PublicKey),
		key:      key,
		chainID:  big.NewInt(chainID),
		abi:      parsedABI,
	}, nil
}

// Mint issues a new membership NFT to the operator account and returns its
// serial. The serial is read from the contract before the mint transaction
// is submitted.
func (mt *MembershipToken) Mint(ctx context.Context, req workflow.MintRequest) (*workflow.Credential, error) {
	serial, err := mt.nextSerial(ctx)
	if err != nil {
		return nil, err
	}

	metadataRef := req.MetadataRef
	if metadataRef == "" {
		metadataRef = fmt.Sprintf("member:%s", req.Wallet)
	}

	callData, err := mt.abi.Pack("mint", mt.operator, metadataRef)
	if err != nil {
		return nil, fmt.Errorf("failed to pack mint call data: %w", err)
	}

	if _, err := signAndSend(ctx, mt.client, mt.key, mt.chainID, mt.address, callData); err != nil {
		return nil, fmt.Errorf("mint transaction failed: %w", err)
	}

	return &workflow.Credential{
		TokenID: mt.address.Hex(),
		Serial:  serial.Int64(),
	}, nil
}

// Transfer moves a minted serial from the operator account to the
// destination wallet and returns the transaction hash.
func (mt *MembershipToken) Transfer(ctx context.Context, tokenID string, serial int64, destination string) (string, error) {
	if !common.IsHexAddress(destination) {
		return "", fmt.Errorf("invalid destination address: %s", destination)
	}

	callData, err := mt.abi.Pack("safeTransferFrom", mt.operator, common.HexToAddress(destination), big.NewInt(serial))
	if err != nil {
		return "", fmt.Errorf("failed to pack transfer call data: %w", err)
	}

	txHash, err := signAndSend(ctx, mt.client, mt.key, mt.chainID, mt.address, callData)
	if err != nil {
		return "", fmt.Errorf("transfer transaction failed: %w", err)
	}

	return txHash, nil
}

func (mt *MembershipToken) nextSerial(ctx context.Context) (*big.Int, error) {
	callData, err := mt.abi.Pack("nextSerial")
	if err != nil {
		return nil, fmt.Errorf("failed to pack call data: %w", err)
	}

	result, err := mt.client.CallContract(ctx, ethereum.CallMsg{
		To:   &mt.address,
		Data: callData,
	}, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to call nextSerial: %w", err)
	}

	var serial *big.Int
	err = mt.abi.UnpackIntoInterface(&serial, "nextSerial", result)
	if err != nil {
		return nil, fmt.Errorf("failed to unpack result: %w", err)
	}

	return serial, nil
}
