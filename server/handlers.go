package server

import (
	"encoding/hex"
	"encoding/json"
	"net/http"

	"umbra-relayer/api"
	"umbra-relayer/buckets"
	"umbra-relayer/chain"
	"umbra-relayer/relayer"
)

// maxBodySize bounds request bodies (encrypted notes stay small).
const maxBodySize = 1 << 20

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, api.HealthResponse{Status: "ok", Version: Version})
}

func (s *Server) handleInfo(w http.ResponseWriter, _ *http.Request) {
	infos := make([]api.BucketInfo, buckets.Count)
	for i, amount := range buckets.Amounts {
		infos[i] = api.BucketInfo{
			ID:           uint8(i),
			Amount:       amount,
			AmountCoins:  float64(amount) / 1_000_000_000,
			TotalWithFee: buckets.TotalWithFee(amount, s.feeBps),
		}
	}

	envelopePub := s.envelope.Public()
	writeJSON(w, http.StatusOK, api.InfoResponse{
		PubKeyN:        hex.EncodeToString(s.signer.PublicN()),
		PubKeyE:        hex.EncodeToString(s.signer.PublicE()),
		EnvelopePubkey: hex.EncodeToString(envelopePub[:]),
		RelayerPubkey:  s.relayerKey.String(),
		FeeBps:         s.feeBps,
		Buckets:        infos,
	})
}

func (s *Server) handleSign(w http.ResponseWriter, r *http.Request) {
	var req api.SignRequest
	if err := decodeBody(w, r, &req); err != nil {
		return
	}

	signature, err := s.issuer.HandleSign(r.Context(), req.BlindedToken, req.Amount, req.PaymentTx, req.Payer)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, api.SignResponse{Success: true, Signature: signature})
}

func (s *Server) handleDeposit(w http.ResponseWriter, r *http.Request) {
	var payload api.EncryptedPayload
	if err := decodeBody(w, r, &payload); err != nil {
		return
	}

	clientPub, err := api.DecodeHex32(payload.ClientPubkey)
	if err != nil {
		writeError(w, relayer.E(relayer.KindInvalidRequest, "client public key must be 32 bytes hex"))
		return
	}

	plaintext, err := s.envelope.Open(payload.Ciphertext, payload.Nonce, clientPub)
	if err != nil {
		writeError(w, relayer.E(relayer.KindDecryptionFailed,
			"decryption failed - invalid ciphertext or key mismatch"))
		return
	}

	var body api.DepositBody
	if err := json.Unmarshal(plaintext, &body); err != nil {
		writeError(w, relayer.E(relayer.KindInvalidRequest, "invalid decrypted payload"))
		return
	}

	req, err := depositRequestFromBody(&body)
	if err != nil {
		writeError(w, err)
		return
	}

	result, err := s.deposits.HandleDeposit(r.Context(), *req)
	if err != nil {
		writeError(w, err)
		return
	}

	leaf := result.LeafIndex
	writeJSON(w, http.StatusOK, api.DepositResponse{
		Success:     true,
		TxSignature: result.TxSignature,
		LeafIndex:   &leaf,
		MerkleRoot:  hex.EncodeToString(result.MerkleRoot[:]),
	})
}

func depositRequestFromBody(body *api.DepositBody) (*relayer.DepositRequest, error) {
	tokenID, err := api.DecodeHex32(body.Credit.TokenID)
	if err != nil {
		return nil, relayer.E(relayer.KindInvalidRequest, "token_id must be 32 bytes hex")
	}
	signature, err := hex.DecodeString(body.Credit.Signature)
	if err != nil || len(signature) == 0 {
		return nil, relayer.E(relayer.KindInvalidRequest, "invalid credit signature")
	}
	commitment, err := api.DecodeHex32(body.Commitment)
	if err != nil {
		return nil, relayer.E(relayer.KindInvalidRequest, "commitment must be 32 bytes hex")
	}

	return &relayer.DepositRequest{
		Credit: relayer.Credit{
			TokenID:   tokenID,
			Signature: signature,
			Amount:    body.Credit.Amount,
		},
		Commitment:    commitment,
		EncryptedNote: body.EncryptedNote,
	}, nil
}

func (s *Server) handleWithdraw(w http.ResponseWriter, r *http.Request) {
	var body api.WithdrawBody
	if err := decodeBody(w, r, &body); err != nil {
		return
	}

	req, err := withdrawalRequestFromBody(&body.Request)
	if err != nil {
		writeError(w, err)
		return
	}

	tx, err := s.withdrawals.HandleWithdrawal(r.Context(), *req, body.DelayHours)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, api.WithdrawalResponse{Success: true, TxSignature: tx})
}

func withdrawalRequestFromBody(body *api.WithdrawalRequest) (*relayer.WithdrawalRequest, error) {
	bad := func(field string) error {
		return relayer.E(relayer.KindInvalidRequest, "invalid %s", field)
	}

	root, err := api.DecodeHex32(body.PublicInputs.Root)
	if err != nil {
		return nil, bad("root")
	}
	nullifierHash, err := api.DecodeHex32(body.PublicInputs.NullifierHash)
	if err != nil {
		return nil, bad("nullifier_hash")
	}
	recipient, err := api.DecodeHex32(body.PublicInputs.Recipient)
	if err != nil {
		return nil, bad("recipient")
	}
	relayerField, err := api.DecodeHex32(body.PublicInputs.Relayer)
	if err != nil {
		return nil, bad("relayer")
	}
	bindingHash, err := api.DecodeHex32(body.PublicInputs.BindingHash)
	if err != nil {
		return nil, bad("binding_hash")
	}

	a, err := api.DecodeHexN(body.Proof.A, 64)
	if err != nil {
		return nil, bad("proof.a")
	}
	b, err := api.DecodeHexN(body.Proof.B, 128)
	if err != nil {
		return nil, bad("proof.b")
	}
	c, err := api.DecodeHexN(body.Proof.C, 64)
	if err != nil {
		return nil, bad("proof.c")
	}

	var proof chain.Groth16Proof
	copy(proof.A[:], a)
	copy(proof.B[:], b)
	copy(proof.C[:], c)

	return &relayer.WithdrawalRequest{
		Proof: proof,
		PublicInputs: relayer.WithdrawalPublicInputs{
			Root:          root,
			NullifierHash: nullifierHash,
			Recipient:     recipient,
			Amount:        body.PublicInputs.Amount,
			Relayer:       relayerField,
			Fee:           body.PublicInputs.Fee,
			BindingHash:   bindingHash,
		},
	}, nil
}

func (s *Server) handleExecute(w http.ResponseWriter, r *http.Request) {
	var req api.ExecuteRequest
	if err := decodeBody(w, r, &req); err != nil {
		return
	}

	nullifierHash, err := api.DecodeHex32(req.NullifierHash)
	if err != nil {
		writeError(w, relayer.E(relayer.KindInvalidRequest, "nullifier hash must be 32 bytes hex"))
		return
	}

	tx, err := s.withdrawals.ExecuteWithdrawal(r.Context(), nullifierHash)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, api.WithdrawalResponse{Success: true, TxSignature: tx})
}

func (s *Server) handlePending(w http.ResponseWriter, _ *http.Request) {
	records := s.withdrawals.Pending()
	pending := make([]api.PendingWithdrawal, len(records))
	for i, record := range records {
		pending[i] = api.PendingWithdrawal{
			PDA:           record.PDA.String(),
			PoolPDA:       record.PoolPDA.String(),
			BucketID:      record.BucketID,
			NullifierHash: hex.EncodeToString(record.NullifierHash[:]),
			Recipient:     record.Recipient.String(),
			ExecuteAfter:  record.ExecuteAfter,
			Amount:        record.Amount,
			Fee:           record.Fee,
			Executed:      record.Executed,
		}
	}
	writeJSON(w, http.StatusOK, api.PendingResponse{Pending: pending})
}

func (s *Server) poolStatus(bucket uint8) (api.PoolStatus, error) {
	size, err := s.pools.Size(bucket)
	if err != nil {
		return api.PoolStatus{}, err
	}
	root, err := s.pools.Root(bucket)
	if err != nil {
		return api.PoolStatus{}, err
	}
	amount := buckets.Amounts[bucket]
	return api.PoolStatus{
		BucketID:    bucket,
		Amount:      amount,
		AmountCoins: float64(amount) / 1_000_000_000,
		TreeSize:    size,
		MerkleRoot:  hex.EncodeToString(root[:]),
	}, nil
}

func (s *Server) handlePools(w http.ResponseWriter, _ *http.Request) {
	pools := make([]api.PoolStatus, 0, buckets.Count)
	for bucket := uint8(0); int(bucket) < buckets.Count; bucket++ {
		status, err := s.poolStatus(bucket)
		if err != nil {
			writeError(w, err)
			return
		}
		pools = append(pools, status)
	}
	writeJSON(w, http.StatusOK, api.PoolsResponse{Pools: pools})
}

func (s *Server) handlePool(w http.ResponseWriter, r *http.Request) {
	bucket, err := parseBucketPath(r)
	if err != nil || int(bucket) >= buckets.Count {
		writeError(w, relayer.E(relayer.KindInvalidBucket, "invalid bucket id"))
		return
	}
	status, err := s.poolStatus(bucket)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (s *Server) handleProof(w http.ResponseWriter, r *http.Request) {
	bucket, err := parseBucketPath(r)
	if err != nil || int(bucket) >= buckets.Count {
		writeError(w, relayer.E(relayer.KindInvalidBucket, "invalid bucket id"))
		return
	}
	leaf, err := parseLeafPath(r)
	if err != nil {
		writeError(w, relayer.E(relayer.KindInvalidRequest, "invalid leaf index"))
		return
	}

	proof, err := s.pools.Proof(bucket, leaf)
	if err != nil {
		writeError(w, err)
		return
	}

	siblings := make([]string, len(proof.Siblings))
	for i, sibling := range proof.Siblings {
		siblings[i] = hex.EncodeToString(sibling[:])
	}
	pathBits := make([]uint8, len(proof.PathBits))
	for i, bit := range proof.PathBits {
		if bit {
			pathBits[i] = 1
		}
	}
	writeJSON(w, http.StatusOK, api.ProofResponse{
		Success:   true,
		Siblings:  siblings,
		PathBits:  pathBits,
		LeafIndex: proof.LeafIndex,
	})
}

func (s *Server) handleCommitment(w http.ResponseWriter, r *http.Request) {
	bucket, err := parseBucketPath(r)
	if err != nil || int(bucket) >= buckets.Count {
		writeError(w, relayer.E(relayer.KindInvalidBucket, "invalid bucket id"))
		return
	}
	leaf, err := parseLeafPath(r)
	if err != nil {
		writeError(w, relayer.E(relayer.KindInvalidRequest, "invalid leaf index"))
		return
	}

	commitment, err := s.pools.Commitment(bucket, leaf)
	if err != nil {
		writeJSON(w, http.StatusOK, api.CommitmentResponse{
			Success: false,
			Error:   "leaf index out of bounds",
		})
		return
	}
	writeJSON(w, http.StatusOK, api.CommitmentResponse{
		Success:    true,
		Commitment: hex.EncodeToString(commitment[:]),
	})
}

// decodeBody parses a JSON body, answering 400 itself on failure.
func decodeBody(w http.ResponseWriter, r *http.Request, dst interface{}) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, relayer.E(relayer.KindInvalidRequest, "invalid request body"))
		return err
	}
	return nil
}
