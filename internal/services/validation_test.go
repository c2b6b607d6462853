package services

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidationHelper_ValidateStruct(t *testing.T) {
	vh := NewValidationHelper()

	t.Run("valid tap request", func(t *testing.T) {
		err := vh.ValidateStruct(&TapRequest{CardID: "CARD-AB12CD34", Lat: -26.2041, Lon: 28.0473})
		assert.NoError(t, err)
	})

	t.Run("missing card id", func(t *testing.T) {
		err := vh.ValidateStruct(&TapRequest{Lat: -26.2041, Lon: 28.0473})
		assert.Error(t, err)
	})

	t.Run("latitude out of range", func(t *testing.T) {
		err := vh.ValidateStruct(&TapRequest{CardID: "CARD-AB12CD34", Lat: 91, Lon: 28.0473})
		assert.Error(t, err)
	})

	t.Run("longitude out of range", func(t *testing.T) {
		err := vh.ValidateStruct(&TapRequest{CardID: "CARD-AB12CD34", Lat: -26.2041, Lon: 181})
		assert.Error(t, err)
	})

	t.Run("non-positive topup amount", func(t *testing.T) {
		err := vh.ValidateStruct(&TopupRequest{Amount: 0})
		assert.Error(t, err)
	})
}

func TestSendErrorResponse(t *testing.T) {
	t.Run("plain error", func(t *testing.T) {
		w := httptest.NewRecorder()
		SendErrorResponse(w, "Card not found", http.StatusNotFound, nil)

		assert.Equal(t, http.StatusNotFound, w.Code)
		assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

		var resp ErrorResponse
		assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, "Card not found", resp.Error)
		assert.Empty(t, resp.Details)
	})

	t.Run("validation details included", func(t *testing.T) {
		vh := NewValidationHelper()
		err := vh.ValidateStruct(&RegisterRequest{Name: "T", Surname: "Mokoena", Email: "not-an-email"})
		assert.Error(t, err)

		w := httptest.NewRecorder()
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)

		var resp ErrorResponse
		assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Contains(t, resp.Details, "Name")
		assert.Contains(t, resp.Details, "Email")
	})
}
