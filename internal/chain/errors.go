package chain

import (
	"errors"
	"fmt"
	"strings"

	"github.com/alanyoungcy/swapmarket/internal/domain"
	"github.com/ethereum/go-ethereum/rpc"
)

// codeUserRejected is the EIP-1193 error code for a declined request.
const codeUserRejected = 4001

// classifyError maps wallet and node errors onto domain sentinels. A declined
// prompt becomes domain.ErrUserRejected; everything else is returned as is.
func classifyError(err error) error {
	if err == nil || errors.Is(err, domain.ErrUserRejected) {
		return err
	}
	var rpcErr rpc.Error
	if errors.As(err, &rpcErr) && rpcErr.ErrorCode() == codeUserRejected {
		return fmt.Errorf("%w: %s", domain.ErrUserRejected, rpcErr.Error())
	}
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "user denied") || strings.Contains(msg, "user rejected") {
		return fmt.Errorf("%w: %s", domain.ErrUserRejected, err.Error())
	}
	return err
}
