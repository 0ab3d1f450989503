package logic

import (
	"github.com/blues/collab/internal/model"
	"github.com/ethereum/go-ethereum/common"
)

// IsAdmin 判断 principal 是否为协议管理员
func IsAdmin(agreement *model.AgreementModel, principal common.Address) bool {
	for _, p := range agreement.Participants {
		if p.Address == principal && p.IsAdmin {
			return true
		}
	}
	return false
}

// IsParticipant 判断 principal 是否为协议成员
func IsParticipant(agreement *model.AgreementModel, principal common.Address) bool {
	for _, p := range agreement.Participants {
		if p.Address == principal {
			return true
		}
	}
	return false
}

func requireAdmin(agreement *model.AgreementModel, principal common.Address) error {
	if !IsAdmin(agreement, principal) {
		return ErrUnauthorized
	}
	return nil
}
