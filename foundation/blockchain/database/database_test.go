package database_test

import (
	"errors"
	"testing"

	"github.com/ConcealNetwork/conceal-core-sub000/foundation/blockchain/database"
	"github.com/ConcealNetwork/conceal-core-sub000/foundation/blockchain/signature"
)

// Success and failure markers.
const (
	success = "\u2713"
	failed  = "\u2717"
)

func sampleTx() database.Transaction {
	var image database.KeyImage
	image[0] = 0x02
	image[1] = 0x44

	return database.Transaction{
		TransactionPrefix: database.TransactionPrefix{
			Version:    1,
			UnlockTime: 0,
			Inputs: []database.Input{
				{Key: &database.KeyInput{Amount: 5000, OutputIndexes: []uint32{3, 1, 7}, KeyImage: image}},
			},
			Outputs: []database.Output{
				{Amount: 4000, Target: database.OutputTarget{Key: &database.KeyOutput{}}},
				{Amount: 900, Target: database.OutputTarget{Multisig: &database.MultisigOutput{RequiredSignatures: 1, Term: 5040}}},
			},
			Extra: database.AppendExtraPaymentID(nil, database.Hash{1, 2, 3}),
		},
		Signatures: [][]database.Signature{make([]database.Signature, 3)},
	}
}

// =============================================================================

func Test_TransactionEncoding(t *testing.T) {
	t.Log("Given the need to encode transactions canonically.")
	{
		testID := 0
		t.Logf("\tTest %d:\tWhen encoding and decoding a transaction.", testID)
		{
			tx := sampleTx()

			got, err := database.DecodeTransaction(tx.Encode())
			if err != nil {
				t.Fatalf("\t%s\tTest %d:\tShould be able to decode the blob: %v", failed, testID, err)
			}
			t.Logf("\t%s\tTest %d:\tShould be able to decode the blob.", success, testID)

			if got.Hash() != tx.Hash() {
				t.Fatalf("\t%s\tTest %d:\tShould keep the same identity.", failed, testID)
			}
			t.Logf("\t%s\tTest %d:\tShould keep the same identity.", success, testID)

			tx.Signatures[0][0][0] = 1
			if got.Hash() != tx.Hash() {
				t.Fatalf("\t%s\tTest %d:\tShould not include signatures in the identity.", failed, testID)
			}
			t.Logf("\t%s\tTest %d:\tShould not include signatures in the identity.", success, testID)

			if sum, ok := tx.OutputsAmount(); !ok || sum != 4900 {
				t.Fatalf("\t%s\tTest %d:\tShould sum the outputs: %d", failed, testID, sum)
			}
			t.Logf("\t%s\tTest %d:\tShould sum the outputs.", success, testID)

			if id, ok := tx.PaymentID(); !ok || id != (database.Hash{1, 2, 3}) {
				t.Fatalf("\t%s\tTest %d:\tShould find the payment id.", failed, testID)
			}
			t.Logf("\t%s\tTest %d:\tShould find the payment id.", success, testID)
		}

		testID = 1
		t.Logf("\tTest %d:\tWhen decoding a garbage blob.", testID)
		{
			if _, err := database.DecodeTransaction([]byte{0xff, 0x01}); !errors.Is(err, database.ErrParse) {
				t.Fatalf("\t%s\tTest %d:\tShould return a parse error: %v", failed, testID, err)
			}
			t.Logf("\t%s\tTest %d:\tShould return a parse error.", success, testID)
		}
	}
}

func Test_InputKinds(t *testing.T) {
	type table struct {
		name string
		in   database.Input
		kind int
	}

	tt := []table{
		{name: "base", in: database.Input{Base: &database.BaseInput{}}, kind: database.InputBase},
		{name: "key", in: database.Input{Key: &database.KeyInput{}}, kind: database.InputKey},
		{name: "multisig", in: database.Input{Multisig: &database.MultisigInput{}}, kind: database.InputMultisig},
		{name: "empty", in: database.Input{}, kind: database.InputUnknown},
		{name: "two", in: database.Input{Base: &database.BaseInput{}, Key: &database.KeyInput{}}, kind: database.InputUnknown},
	}

	t.Log("Given the need to classify inputs.")
	{
		for testID, tst := range tt {
			f := func(t *testing.T) {
				if got := tst.in.Kind(); got != tst.kind {
					t.Fatalf("\t%s\tTest %d:\tShould get kind %d for %s, got %d.", failed, testID, tst.kind, tst.name, got)
				}
				t.Logf("\t%s\tTest %d:\tShould get the right kind for %s.", success, testID, tst.name)
			}
			t.Run(tst.name, f)
		}
	}
}

func Test_Offsets(t *testing.T) {
	t.Log("Given the need to convert output offsets.")
	{
		testID := 0
		abs := []uint32{3, 4, 11, 200}
		rel := database.RelativeOffsets(abs)
		back := database.AbsoluteOffsets(rel)
		for i := range abs {
			if back[i] != abs[i] {
				t.Fatalf("\t%s\tTest %d:\tShould round trip the offsets: %v", failed, testID, back)
			}
		}
		t.Logf("\t%s\tTest %d:\tShould round trip the offsets.", success, testID)
	}
}

func Test_Extra(t *testing.T) {
	t.Log("Given the need to parse the extra field.")
	{
		testID := 0
		t.Logf("\tTest %d:\tWhen building an extra with every field.", testID)
		{
			pub, _, err := signature.GenerateKeys()
			if err != nil {
				t.Fatalf("\t%s\tTest %d:\tShould generate keys: %v", failed, testID, err)
			}

			extra := database.AppendExtraPublicKey(nil, pub)
			extra = database.AppendExtraPaymentID(extra, database.Hash{9})
			extra = append(extra, 0, 0, 0)

			fields, err := database.ParseExtra(extra)
			if err != nil || len(fields) != 3 {
				t.Fatalf("\t%s\tTest %d:\tShould parse three fields: %v %d", failed, testID, err, len(fields))
			}
			t.Logf("\t%s\tTest %d:\tShould parse three fields.", success, testID)

			if pk, ok := database.PublicKeyFromExtra(extra); !ok || pk != pub {
				t.Fatalf("\t%s\tTest %d:\tShould find the public key.", failed, testID)
			}
			t.Logf("\t%s\tTest %d:\tShould find the public key.", success, testID)
		}

		testID = 1
		t.Logf("\tTest %d:\tWhen parsing malformed extras.", testID)
		{
			bad := [][]byte{
				{database.ExtraTagPubKey, 1, 2},
				{database.ExtraTagNonce, 10, 1},
				{database.ExtraTagNonce},
				{database.ExtraTagPadding, 0, 1},
				{0x7f},
			}
			for _, extra := range bad {
				if _, err := database.ParseExtra(extra); !errors.Is(err, database.ErrExtra) {
					t.Fatalf("\t%s\tTest %d:\tShould reject %x: %v", failed, testID, extra, err)
				}
			}
			t.Logf("\t%s\tTest %d:\tShould reject every malformed extra.", success, testID)
		}
	}
}

func Test_Block(t *testing.T) {
	t.Log("Given the need to identify blocks.")
	{
		testID := 0
		tx := sampleTx()
		b := database.Block{
			BlockHeader:       database.BlockHeader{MajorVersion: 1, Timestamp: 10},
			BaseTransaction:   database.Transaction{TransactionPrefix: database.TransactionPrefix{Version: 1, Inputs: []database.Input{{Base: &database.BaseInput{Height: 1}}}}},
			TransactionHashes: []database.Hash{tx.Hash()},
		}

		raw := database.NewRawBlock(b, []database.Transaction{tx})
		got, txs, err := raw.Decode()
		if err != nil {
			t.Fatalf("\t%s\tTest %d:\tShould decode the raw block: %v", failed, testID, err)
		}
		if got.Hash() != b.Hash() || len(txs) != 1 || txs[0].Hash() != tx.Hash() {
			t.Fatalf("\t%s\tTest %d:\tShould keep the identities.", failed, testID)
		}
		t.Logf("\t%s\tTest %d:\tShould decode the raw block.", success, testID)

		b.Nonce++
		if got.Hash() == b.Hash() || got.PowHash() == b.PowHash() {
			t.Fatalf("\t%s\tTest %d:\tShould change the hashes with the nonce.", failed, testID)
		}
		t.Logf("\t%s\tTest %d:\tShould change the hashes with the nonce.", success, testID)

		b.TransactionHashes = nil
		if got.TreeRoot() == b.TreeRoot() {
			t.Fatalf("\t%s\tTest %d:\tShould commit to the transaction hashes.", failed, testID)
		}
		t.Logf("\t%s\tTest %d:\tShould commit to the transaction hashes.", success, testID)
	}
}

func Test_Address(t *testing.T) {
	t.Log("Given the need to handle account addresses.")
	{
		testID := 0
		spend, _, _ := signature.GenerateKeys()
		view, _, _ := signature.GenerateKeys()
		addr := database.AccountAddress{SpendKey: spend, ViewKey: view}

		got, err := database.ToAddress(addr.String())
		if err != nil || got != addr {
			t.Fatalf("\t%s\tTest %d:\tShould round trip the address: %v", failed, testID, err)
		}
		t.Logf("\t%s\tTest %d:\tShould round trip the address.", success, testID)

		if _, err := database.ToAddress("0x1234"); err == nil {
			t.Fatalf("\t%s\tTest %d:\tShould reject a short address.", failed, testID)
		}
		t.Logf("\t%s\tTest %d:\tShould reject a short address.", success, testID)
	}
}

func Test_TransactionProof(t *testing.T) {
	block := database.Block{
		BaseTransaction:   sampleTx(),
		TransactionHashes: []database.Hash{{1}, {2}, {3}, {4}},
	}

	t.Log("Given the need to prove a transaction belongs to a block.")
	{
		testID := 0
		t.Logf("\tTest %d:\tWhen proving every transaction of the block.", testID)
		{
			hashes := append([]database.Hash{block.BaseTransaction.Hash()}, block.TransactionHashes...)
			for _, hash := range hashes {
				proof, err := block.TransactionProof(hash)
				if err != nil {
					t.Fatalf("\t%s\tTest %d:\tShould build the proof of %s: %v", failed, testID, hash, err)
				}
				if proof.TreeRoot != block.TreeRoot() || !proof.Verify(hash) {
					t.Fatalf("\t%s\tTest %d:\tShould link %s to the tree root.", failed, testID, hash)
				}
			}
			t.Logf("\t%s\tTest %d:\tShould link every transaction to the tree root.", success, testID)
		}

		testID = 1
		t.Logf("\tTest %d:\tWhen the proof is checked against another transaction.", testID)
		{
			proof, err := block.TransactionProof(database.Hash{2})
			if err != nil {
				t.Fatalf("\t%s\tTest %d:\tShould build the proof: %v", failed, testID, err)
			}
			if proof.Verify(database.Hash{3}) {
				t.Fatalf("\t%s\tTest %d:\tShould not verify another transaction.", failed, testID)
			}
			t.Logf("\t%s\tTest %d:\tShould not verify another transaction.", success, testID)
		}

		testID = 2
		t.Logf("\tTest %d:\tWhen the transaction is not part of the block.", testID)
		{
			if _, err := block.TransactionProof(database.Hash{9}); err == nil {
				t.Fatalf("\t%s\tTest %d:\tShould fail to build the proof.", failed, testID)
			}
			t.Logf("\t%s\tTest %d:\tShould fail to build the proof.", success, testID)
		}
	}
}
