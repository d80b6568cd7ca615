package credit_test

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/xraph/getanswer/credit"
	"github.com/xraph/getanswer/id"
)

func tx(kind credit.Kind, amount int64, status credit.Status) credit.Transaction {
	return credit.Transaction{ID: id.NewTransactionID(), Kind: kind, Amount: amount, Status: status}
}

func TestEffect(t *testing.T) {
	tests := []struct {
		name string
		tx   credit.Transaction
		want int64
	}{
		{"add", tx(credit.KindAdd, 5, credit.StatusSuccess), 5},
		{"deduct", tx(credit.KindDeduct, 2, credit.StatusSuccess), -2},
		{"restored deduct", tx(credit.KindDeduct, 2, credit.StatusFailed), 0},
		{"restore record", tx(credit.KindRestore, 2, credit.StatusSuccess), 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.tx.Effect(); got != tt.want {
				t.Errorf("Effect() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestReplay(t *testing.T) {
	log := []credit.Transaction{
		tx(credit.KindDeduct, 2, credit.StatusSuccess),
		tx(credit.KindDeduct, 2, credit.StatusFailed),
		tx(credit.KindRestore, 2, credit.StatusSuccess),
		tx(credit.KindAdd, 50, credit.StatusSuccess),
	}

	if got := credit.Replay(credit.DefaultBalance, log); got != 58 {
		t.Errorf("Replay = %d, want 58", got)
	}
	if got := credit.Replay(7, nil); got != 7 {
		t.Errorf("Replay of empty log = %d, want 7", got)
	}
}

func TestTrimPreservesReplay(t *testing.T) {
	var log []credit.Transaction
	for i := 0; i < 20; i++ {
		log = append(log, tx(credit.KindAdd, 3, credit.StatusSuccess))
		log = append(log, tx(credit.KindDeduct, 2, credit.StatusSuccess))
		log = append(log, tx(credit.KindDeduct, 2, credit.StatusFailed))
	}
	want := credit.Replay(10, log)

	opening, kept := credit.Trim(10, log, 7)
	if len(kept) != 7 {
		t.Fatalf("kept %d records, want 7", len(kept))
	}
	if kept[6].ID != log[len(log)-1].ID {
		t.Error("Trim must keep the newest records")
	}
	if got := credit.Replay(opening, kept); got != want {
		t.Errorf("Replay after Trim = %d, want %d", got, want)
	}
}

func TestTrimUnbounded(t *testing.T) {
	log := []credit.Transaction{tx(credit.KindAdd, 1, credit.StatusSuccess)}
	opening, kept := credit.Trim(4, log, 0)
	if opening != 4 || len(kept) != 1 {
		t.Errorf("Trim(limit=0) = (%d, %d records), want (4, 1 record)", opening, len(kept))
	}
}

func TestIndex(t *testing.T) {
	log := []credit.Transaction{
		tx(credit.KindAdd, 1, credit.StatusSuccess),
		tx(credit.KindDeduct, 1, credit.StatusSuccess),
	}
	if got := credit.Index(log, log[1].ID); got != 1 {
		t.Errorf("Index = %d, want 1", got)
	}
	if got := credit.Index(log, id.NewTransactionID()); got != -1 {
		t.Errorf("Index of unknown id = %d, want -1", got)
	}
}

func TestRestoresOmittedWhenUnset(t *testing.T) {
	deduct := tx(credit.KindDeduct, 2, credit.StatusSuccess)
	data, err := json.Marshal(deduct)
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(string(data), `"restores"`) {
		t.Errorf("deduct record encodes restores: %s", data)
	}

	restore := tx(credit.KindRestore, 2, credit.StatusSuccess)
	restore.Restores = deduct.ID
	data, err = json.Marshal(restore)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), `"restores":"`+deduct.ID.String()+`"`) {
		t.Errorf("restore record = %s, want restores %s", data, deduct.ID)
	}

	var back credit.Transaction
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatal(err)
	}
	if !back.Restores.Equal(deduct.ID) {
		t.Errorf("decoded Restores = %s, want %s", back.Restores, deduct.ID)
	}
}
