package payments

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/mamadbah2/gymledger/internal/domain/models"
)

// Legacy transaction_type tags seen on records written before categories
// were explicit.
var tagCategories = map[string]models.PaymentCategory{
	"class":            models.PaymentClass,
	"classes":          models.PaymentClass,
	"clase":            models.PaymentClass,
	"clases":           models.PaymentClass,
	"membership":       models.PaymentMembership,
	"membresia":        models.PaymentMembership,
	"mensualidad":      models.PaymentMembership,
	"staff":            models.PaymentStaff,
	"staff_payment":    models.PaymentStaff,
	"salary":           models.PaymentStaff,
	"payroll":          models.PaymentStaff,
	"nomina":           models.PaymentStaff,
	"product_purchase": models.PaymentProductPurchase,
	"purchase":         models.PaymentProductPurchase,
	"compra":           models.PaymentProductPurchase,
	"inventory":        models.PaymentProductPurchase,
	"other":            models.PaymentOther,
	"otro":             models.PaymentOther,
}

var staffKeywords = []string{"salario", "comision", "bono", "sueldo", "nomina", "payroll", "salary"}

const staffPrefix = "staff-"

// Classify returns the category of p. An explicit category always wins;
// otherwise the legacy tag, then the notes and id heuristics decide. An
// expense that matches nothing counts as a product purchase.
func Classify(p models.Payment) models.PaymentCategory {
	if p.Category.Valid() {
		return p.Category
	}
	if c, ok := tagCategories[fold(p.TransactionType)]; ok {
		return c
	}
	if c, ok := tagCategories[fold(string(p.Category))]; ok {
		return c
	}

	notes := fold(p.Notes)
	for _, kw := range staffKeywords {
		if strings.Contains(notes, kw) {
			return models.PaymentStaff
		}
	}
	if strings.HasPrefix(strings.ToLower(p.ID), staffPrefix) || strings.HasPrefix(strings.ToLower(p.Payee), staffPrefix) {
		return models.PaymentStaff
	}
	if p.IsExpense {
		return models.PaymentProductPurchase
	}

	switch {
	case strings.Contains(notes, "membresia"), strings.Contains(notes, "membership"), strings.Contains(notes, "mensualidad"):
		return models.PaymentMembership
	case strings.Contains(notes, "clase"), strings.Contains(notes, "class"):
		return models.PaymentClass
	}
	return models.PaymentOther
}

// fold lowercases s and strips diacritics so "Comisión" matches "comision".
func fold(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		out = s
	}
	return strings.ToLower(strings.TrimSpace(out))
}
