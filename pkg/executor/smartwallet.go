package executor

import (
	"context"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strconv"

	"github.com/stellar/go/xdr"

	"github.com/SergeKhachatour/Stellar-GeoLink-sub003/pkg/api"
	"github.com/SergeKhachatour/Stellar-GeoLink-sub003/pkg/chain"
	"github.com/SergeKhachatour/Stellar-GeoLink-sub003/pkg/contracts"
	"github.com/SergeKhachatour/Stellar-GeoLink-sub003/pkg/webauthnsig"
)

// defaultPaymentFunction is the smart-wallet entrypoint when the contract
// record does not name one.
const defaultPaymentFunction = "execute_payment"

// executeSmartWallet routes a payment through the configured smart-wallet
// contract: passkey pre-flight, balance check, canonical payload, signature
// normalization, then execute_payment.
func (e *Executor) executeSmartWallet(ctx context.Context, userID string, contract *contracts.CustomContract, rule *contracts.ExecutionRule, req *Request) (*Response, error) {
	if contract.SmartWalletContractID == "" {
		return nil, api.NewError(api.CodeValidation, "contract has no smart wallet configured")
	}
	signer := req.UserPublicKey
	if signer == "" {
		return nil, api.NewError(api.CodeValidation, "user_public_key is required for smart-wallet payments")
	}

	sigBytes, authData, clientData, err := decodeWebauthnBundle(req)
	if err != nil {
		return nil, err
	}

	secret, err := e.signingSecret(req)
	if err != nil {
		return nil, err
	}

	// Passkey consistency: the wallet stores one passkey per address, and
	// users sharing an address may have clobbered each other's
	// registration. The on-chain read is authoritative.
	if req.PasskeyPublicKeySPKI != "" {
		if err := e.passkeyPreflight(ctx, userID, contract.SmartWalletContractID, signer, secret, req.PasskeyPublicKeySPKI); err != nil {
			return nil, err
		}
	}

	matchedPK := e.resolveMatchedPublicKey(ctx, userID, req)
	destination, amount, asset, memo, err := e.paymentFields(req, matchedPK)
	if err != nil {
		return nil, err
	}

	e.checkBalance(ctx, contract.SmartWalletContractID, signer, asset, amount, secret)

	payload, err := buildSignaturePayload(req.SignaturePayload, len(sigBytes) > 0, signer, destination, amount, asset)
	if err != nil {
		return nil, err
	}
	if memo != "" {
		payload.Memo = memo
	}
	payloadBytes, err := payload.Bytes()
	if err != nil {
		return nil, fmt.Errorf("executor: encoding signature payload: %w", err)
	}

	signerVal, err := chain.AddressScVal(signer)
	if err != nil {
		return nil, api.NewError(api.CodeValidation, err.Error())
	}
	destVal, err := chain.AddressScVal(payload.Destination)
	if err != nil {
		return nil, api.NewError(api.CodeValidation, err.Error())
	}
	assetVal, err := chain.AddressScVal(payload.Asset)
	if err != nil {
		return nil, api.NewError(api.CodeValidation, err.Error())
	}
	amountInt, err := strconv.ParseInt(payload.Amount, 10, 64)
	if err != nil {
		return nil, api.NewError(api.CodeValidation, fmt.Sprintf("amount %q is not integer stroops", payload.Amount))
	}

	args := []xdr.ScVal{
		signerVal,
		destVal,
		chain.Int128ScVal(amountInt),
		assetVal,
		chain.BytesScVal(payloadBytes),
		chain.BytesScVal(sigBytes),
		chain.BytesScVal(authData),
		chain.BytesScVal(clientData),
	}

	paymentFn := contract.PaymentFunctionName
	if paymentFn == "" {
		paymentFn = defaultPaymentFunction
	}

	outcome, err := e.invoker.Invoke(ctx, chain.InvokeRequest{
		Network:         e.network,
		SourceSecret:    secret,
		ContractAddress: contract.SmartWalletContractID,
		Function:        paymentFn,
		Args:            args,
	})
	if err != nil {
		return nil, classifyChainError(err)
	}

	// A false return from the wallet is a payment rejection, distinct from
	// transport failure.
	if isFalse, _ := chain.ReturnValueIsFalse(outcome.ReturnValueXDR); isFalse {
		return nil, api.NewError(api.CodePaymentRejected, "smart wallet rejected the payment").
			WithDetail("transaction_hash", outcome.Hash).
			WithSuggestion("possible causes: insufficient balance, invalid webauthn signature, bad parameter, other")
	}

	returnValue, decodeErr := chain.DecodeReturnValue(outcome.ReturnValueXDR)
	if decodeErr != nil {
		e.logger.Warn("return value decode failed", "function", paymentFn, "error", decodeErr)
	}

	resp := &Response{
		Success:                  true,
		TransactionHash:          outcome.Hash,
		Ledger:                   outcome.Ledger,
		RoutedThroughSmartWallet: true,
		ContractReturnValue:      returnValue,
		PendingConfirmation:      outcome.PendingConfirmation,
		Parameters: map[string]any{
			"destination": payload.Destination,
			"amount":      payload.Amount,
			"asset":       payload.Asset,
			"memo":        payload.Memo,
			"timestamp":   payload.Timestamp,
		},
	}
	if outcome.Hash != "" {
		resp.StellarExpertURL = chain.ExplorerURL(e.network, outcome.Hash)
	}

	e.markCompleted(ctx, userID, req, resp, matchedPK)
	return resp, nil
}

// decodeWebauthnBundle validates and decodes the caller's WebAuthn material,
// reporting every missing piece at once. The signature is normalized to raw
// 64-byte low-S form.
func decodeWebauthnBundle(req *Request) (sig, authData, clientData []byte, err error) {
	var violations []string
	if req.WebauthnSignature == "" {
		violations = append(violations, "webauthnSignature is required")
	}
	if req.WebauthnAuthenticatorData == "" {
		violations = append(violations, "webauthnAuthenticatorData is required")
	}
	if req.WebauthnClientData == "" {
		violations = append(violations, "webauthnClientData is required")
	}
	if len(violations) > 0 {
		return nil, nil, nil, api.NewError(api.CodeValidation, "incomplete WebAuthn bundle").
			WithDetail("violations", violations)
	}

	rawSig, err := base64.StdEncoding.DecodeString(req.WebauthnSignature)
	if err != nil {
		return nil, nil, nil, api.NewError(api.CodeValidation, "webauthnSignature is not valid base64")
	}
	sig, err = webauthnsig.NormalizeSignature(rawSig)
	if err != nil {
		return nil, nil, nil, api.NewError(api.CodeValidation, err.Error())
	}
	authData, err = base64.StdEncoding.DecodeString(req.WebauthnAuthenticatorData)
	if err != nil {
		return nil, nil, nil, api.NewError(api.CodeValidation, "webauthnAuthenticatorData is not valid base64")
	}
	clientData, err = base64.StdEncoding.DecodeString(req.WebauthnClientData)
	if err != nil {
		return nil, nil, nil, api.NewError(api.CodeValidation, "webauthnClientData is not valid base64")
	}
	return sig, authData, clientData, nil
}

// passkeyPreflight simulates get_passkey_pubkey on the wallet and compares
// the registered 65-byte point with the one extracted from the caller's
// SPKI. The local cache updates on success.
func (e *Executor) passkeyPreflight(ctx context.Context, userID, walletContract, signer, secret, spkiB64 string) error {
	spki, err := base64.StdEncoding.DecodeString(spkiB64)
	if err != nil {
		return api.NewError(api.CodeValidation, "passkeyPublicKeySPKI is not valid base64")
	}
	extracted, err := webauthnsig.ExtractP256PublicKey(spki)
	if err != nil {
		return api.NewError(api.CodeValidation, err.Error())
	}

	signerVal, err := chain.AddressScVal(signer)
	if err != nil {
		return api.NewError(api.CodeValidation, err.Error())
	}
	simResp, err := e.invoker.Simulate(ctx, chain.InvokeRequest{
		Network:         e.network,
		SourceSecret:    secret,
		ContractAddress: walletContract,
		Function:        "get_passkey_pubkey",
		Args:            []xdr.ScVal{signerVal},
	})
	if err != nil {
		return api.NewError(api.CodeChainError, fmt.Sprintf("passkey lookup failed: %v", err))
	}

	var registered []byte
	if len(simResp.Results) > 0 && simResp.Results[0].ReturnValueXDR != nil {
		decoded, err := chain.DecodeReturnValue(*simResp.Results[0].ReturnValueXDR)
		if err == nil {
			if hexStr, ok := decoded.(string); ok {
				registered, _ = hex.DecodeString(hexStr)
			}
		}
	}
	if len(registered) == 0 {
		return api.NewError(api.CodePasskeyMismatch, "no passkey registered on the smart wallet for this address").
			WithDetail("canAutoRegister", true).
			WithSuggestion("register the passkey and retry")
	}

	if !webauthnsig.KeysEqual(registered, extracted) {
		return api.NewError(api.CodePasskeyMismatch, "registered passkey does not match the provided credential").
			WithDetail("registered", truncatedHex(registered)).
			WithDetail("extracted", truncatedHex(extracted)).
			WithDetail("canAutoRegister", true).
			WithSuggestion("re-register the passkey for this address and retry")
	}

	if err := e.passkeys.Upsert(ctx, userID, signer, hex.EncodeToString(extracted)); err != nil {
		e.logger.Warn("passkey cache update failed", "error", err)
	}
	return nil
}

// checkBalance simulates get_balance and logs sufficiency. The contract is
// authoritative; an apparent shortfall does not block.
func (e *Executor) checkBalance(ctx context.Context, walletContract, signer, asset string, amountStroops string, secret string) {
	signerVal, err := chain.AddressScVal(signer)
	if err != nil {
		return
	}
	assetVal, err := chain.AddressScVal(asset)
	if err != nil {
		return
	}
	simResp, err := e.invoker.Simulate(ctx, chain.InvokeRequest{
		Network:         e.network,
		SourceSecret:    secret,
		ContractAddress: walletContract,
		Function:        "get_balance",
		Args:            []xdr.ScVal{signerVal, assetVal},
	})
	if err != nil {
		e.logger.Warn("balance pre-flight failed", "error", err)
		return
	}
	if len(simResp.Results) == 0 || simResp.Results[0].ReturnValueXDR == nil {
		return
	}
	decoded, err := chain.DecodeReturnValue(*simResp.Results[0].ReturnValueXDR)
	if err != nil {
		return
	}
	balanceStr, ok := decoded.(string)
	if !ok {
		return
	}
	balance, err := strconv.ParseInt(balanceStr, 10, 64)
	if err != nil {
		return
	}
	amount, _ := strconv.ParseInt(amountStroops, 10, 64)
	e.logger.Info("smart wallet balance checked",
		"sufficient", balance >= amount, "balance_stroops", balance, "amount_stroops", amount)
}

// paymentFields derives destination, amount, asset and memo from the
// caller's parameters, canonicalizing aliases and units.
func (e *Executor) paymentFields(req *Request, matchedPK string) (destination, amount, asset, memo string, err error) {
	params := req.Parameters
	var violations []string

	for _, k := range destinationKeys {
		if v, ok := params[k].(string); ok && v != "" {
			destination = v
			break
		}
	}
	if destination == "" || !contracts.ValidAddressShape(destination) {
		destination = matchedPK
	}
	if destination == "" {
		violations = append(violations, "destination is required")
	}

	var rawAmount any
	for _, k := range amountKeys {
		if v, ok := params[k]; ok {
			rawAmount = v
			break
		}
	}
	if rawAmount == nil {
		violations = append(violations, "amount is required")
	} else {
		amount, err = contracts.CanonicalizeAmount(rawAmount)
		if err != nil {
			violations = append(violations, err.Error())
		}
	}

	asset, _ = params["asset"].(string)
	if contracts.IsNativeAssetAlias(asset) {
		asset = chain.NativeSAC(e.network)
	}

	if v, ok := params["memo"].(string); ok {
		memo = v
	}

	if len(violations) > 0 {
		return "", "", "", "", api.NewError(api.CodeValidation, "payment parameter validation failed").
			WithDetail("violations", violations)
	}
	return destination, amount, asset, memo, nil
}

func truncatedHex(b []byte) string {
	s := hex.EncodeToString(b)
	if len(s) > 16 {
		return s[:16] + "..."
	}
	return s
}
