package brokerage

import "math/big"

// AverageEntryPrice returns the liquidity units paid per share since the
// account's outstanding shares were last zero, scaled by 1e18 and rounded up.
// Zero is returned when no entry basis exists.
func AverageEntryPrice(acc *Account) *big.Int {
	if acc == nil || acc.CumulativeSharesMinted == nil || acc.CumulativeSharesMinted.Sign() == 0 {
		return big.NewInt(0)
	}
	return mulDivUp(zeroIfNil(acc.CumulativeUnitsDeposited), wad, acc.CumulativeSharesMinted)
}

// CalculateWithdrawalFees returns the broker and protocol fees owed on a
// redemption, denominated in the same liquidity unit as liquidityRedeemed.
//
// Performance fees apply only to the gain of the realized exit price over the
// account's average entry price. Exit fees apply to the whole redemption.
func CalculateWithdrawalFees(acc *Account, sharesBurnt, liquidityRedeemed *big.Int) (brokerFee, protocolFee *big.Int) {
	brokerFee, protocolFee = big.NewInt(0), big.NewInt(0)
	if acc == nil || sharesBurnt == nil || sharesBurnt.Sign() <= 0 || liquidityRedeemed == nil || liquidityRedeemed.Sign() <= 0 {
		return brokerFee, protocolFee
	}
	fees := acc.Fees
	if fees.BrokerPerformanceFeeBps != 0 || fees.ProtocolPerformanceFeeBps != 0 {
		if performance := realizedPerformance(acc, sharesBurnt, liquidityRedeemed); performance.Sign() > 0 {
			brokerFee.Add(brokerFee, bpsUp(performance, fees.BrokerPerformanceFeeBps))
			protocolFee.Add(protocolFee, bpsUp(performance, fees.ProtocolPerformanceFeeBps))
		}
	}
	brokerFee.Add(brokerFee, bpsUp(liquidityRedeemed, fees.BrokerExitFeeBps))
	protocolFee.Add(protocolFee, bpsUp(liquidityRedeemed, fees.ProtocolExitFeeBps))
	return brokerFee, protocolFee
}

func realizedPerformance(acc *Account, sharesBurnt, liquidityRedeemed *big.Int) *big.Int {
	entry := AverageEntryPrice(acc)
	if entry.Sign() == 0 {
		return big.NewInt(0)
	}
	exit := mulDivDown(liquidityRedeemed, wad, sharesBurnt)
	if exit.Cmp(entry) <= 0 {
		return big.NewInt(0)
	}
	gain := new(big.Int).Sub(exit, entry)
	return mulDivDown(gain, sharesBurnt, wad)
}

// SplitEntranceFees divides freshly minted shares between the recipient, the
// broker and the protocol. The three parts always sum to sharesOut.
func SplitEntranceFees(sharesOut *big.Int, fees FeeSchedule) (userShares, brokerFee, protocolFee *big.Int) {
	if sharesOut == nil || sharesOut.Sign() <= 0 {
		return big.NewInt(0), big.NewInt(0), big.NewInt(0)
	}
	brokerFee = bpsUp(sharesOut, fees.BrokerEntranceFeeBps)
	protocolFee = bpsUp(sharesOut, fees.ProtocolEntranceFeeBps)
	capFees(sharesOut, brokerFee, protocolFee)
	userShares = new(big.Int).Sub(sharesOut, brokerFee)
	userShares.Sub(userShares, protocolFee)
	return userShares, brokerFee, protocolFee
}

// capFees trims rounded-up fees in place so they never exceed total.
func capFees(total, brokerFee, protocolFee *big.Int) {
	if new(big.Int).Add(brokerFee, protocolFee).Cmp(total) <= 0 {
		return
	}
	protocolFee.Set(minInt(protocolFee, total))
	brokerFee.Set(minInt(brokerFee, new(big.Int).Sub(total, protocolFee)))
}

// ManagementFeeShares returns ceil(totalSupply * rateBps/10000 *
// elapsed/secondsPerYear), the number of shares to dilute for the elapsed
// period.
func ManagementFeeShares(totalSupply *big.Int, rateBps uint64, elapsed uint64) *big.Int {
	if totalSupply == nil || totalSupply.Sign() <= 0 || rateBps == 0 || elapsed == 0 {
		return big.NewInt(0)
	}
	numerator := new(big.Int).Mul(new(big.Int).SetUint64(rateBps), new(big.Int).SetUint64(elapsed))
	denominator := new(big.Int).Mul(basisPoints, big.NewInt(secondsPerYear))
	return mulDivUp(totalSupply, numerator, denominator)
}

func validFeePair(broker, protocol uint64) bool {
	return broker < 10_000 && protocol < 10_000 && broker+protocol < 10_000
}

func (f FeeSchedule) valid() bool {
	return validFeePair(f.BrokerEntranceFeeBps, f.ProtocolEntranceFeeBps) &&
		validFeePair(f.BrokerExitFeeBps, f.ProtocolExitFeeBps) &&
		validFeePair(f.BrokerPerformanceFeeBps, f.ProtocolPerformanceFeeBps)
}
