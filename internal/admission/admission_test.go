package admission

import (
	"context"
	"testing"

	"github.com/ipwis/kernel/internal/domain"
)

func TestAlwaysAdmitNeverDenies(t *testing.T) {
	var h AlwaysAdmit
	if err := h.Admit(context.Background(), "tenant-a", domain.TaskConstraints{}); err != nil {
		t.Fatalf("expected AlwaysAdmit to never deny, got %v", err)
	}
}
