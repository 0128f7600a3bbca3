package agent

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spesalog/spesalog/internal/domain"
)

// buildBatchPrompt assembles the categorization instruction for one batch.
// User rules are injected as an absolute-priority section ahead of every
// other instruction.
func buildBatchPrompt(req BatchRequest) string {
	var b strings.Builder

	b.WriteString("Sei un assistente che categorizza movimenti bancari italiani.\n")
	b.WriteString("Per ogni transazione individua il commerciante (merchant) e assegna una categoria di spesa.\n\n")

	if len(req.UserRules) > 0 {
		b.WriteString("REGOLE UTENTE (priorità ASSOLUTA, prevalgono su ogni altra logica e su ogni esempio):\n")
		for i, rule := range req.UserRules {
			fmt.Fprintf(&b, "%d. %s\n", i+1, rule)
		}
		b.WriteString("\n")
	}

	b.WriteString("Categorie disponibili:\n")
	for _, c := range req.Categories {
		fmt.Fprintf(&b, "- %s\n", c)
	}
	b.WriteString("Usa una categoria esistente quando possibile. Crea una nuova categoria solo se nessuna è adatta ed elencala in new_categories_created.\n\n")

	if len(req.Hints) > 0 {
		b.WriteString("Esempi da transazioni già categorizzate (indicativi, NON vincolanti):\n")
		for _, h := range req.Hints {
			fmt.Fprintf(&b, "- %q -> merchant %q, categoria %q\n", h.Description, h.Merchant, h.Category)
		}
		b.WriteString("\n")
	}

	b.WriteString("Transazioni da categorizzare:\n")
	items, _ := json.Marshal(req.Items)
	b.Write(items)
	b.WriteString("\n\n")

	b.WriteString("Se una transazione non è una spesa (stipendio, bonifico in entrata, giroconto) imposta not_expense a true e lascia category vuota.\n")
	b.WriteString("Rispondi SOLO con un oggetto JSON, senza markdown e senza testo aggiuntivo, nella forma:\n")
	b.WriteString(`{"categorizations":[{"transaction_id":"...","category":"...","merchant":"...","not_expense":false,"applied_user_rule":""}],"new_categories_created":[]}`)
	b.WriteString("\n")
	return b.String()
}

// buildStructurePrompt asks the model to assign semantic roles to the
// columns of an unknown file layout.
func buildStructurePrompt(req StructureRequest) string {
	var b strings.Builder

	b.WriteString("Questo è un estratto conto bancario con colonne di significato ignoto.\n")
	b.WriteString("Assegna a ogni ruolo il nome della colonna corrispondente, oppure una stringa vuota se assente.\n\n")

	fmt.Fprintf(&b, "Colonne: %s\n", strings.Join(req.Columns, ", "))
	if req.DateColumnHint != "" {
		fmt.Fprintf(&b, "La colonna della data è quasi certamente %q.\n", req.DateColumnHint)
	}

	b.WriteString("\nRighe di esempio:\n")
	for _, row := range req.Sample {
		sample, _ := json.Marshal(row.Map())
		b.Write(sample)
		b.WriteString("\n")
	}

	b.WriteString("\nRispondi SOLO con JSON nella forma:\n")
	b.WriteString(`{"date":"","description":"","merchant":"","income_amount":"","expense_amount":"","operation_type":""}`)
	b.WriteString("\n")
	return b.String()
}

// buildRulePrompt asks the model to parse and vet one free-text user rule.
func buildRulePrompt(text string, categories []string) string {
	var b strings.Builder

	b.WriteString("Un utente ha scritto una regola di categorizzazione per i propri movimenti bancari.\n")
	b.WriteString("Estrai commercianti, categoria ed eventuale intervallo di date (YYYY-MM-DD).\n")
	b.WriteString("La regola è invalida se non riguarda la categorizzazione di spese, se è offensiva, o se la categoria non è ricavabile.\n\n")
	fmt.Fprintf(&b, "Categorie esistenti: %s\n", strings.Join(categories, ", "))
	fmt.Fprintf(&b, "Regola: %q\n\n", text)
	b.WriteString("Rispondi SOLO con JSON nella forma:\n")
	b.WriteString(`{"valid":true,"reason":"","merchants":[],"category":"","date_from":"","date_to":""}`)
	b.WriteString("\n")
	return b.String()
}

// structureFromRoles builds a FileStructure out of the model's role map,
// keeping only roles that name a real column.
func structureFromRoles(roles map[string]string, columns []string) *domain.FileStructure {
	known := make(map[string]bool, len(columns))
	for _, c := range columns {
		known[c] = true
	}
	pick := func(role string) string {
		if col := strings.TrimSpace(roles[role]); known[col] {
			return col
		}
		return ""
	}
	return &domain.FileStructure{
		Hash:                domain.StructureHash(columns),
		Columns:             append([]string(nil), columns...),
		DateColumn:          pick("date"),
		DescriptionColumn:   pick("description"),
		MerchantColumn:      pick("merchant"),
		IncomeAmountColumn:  pick("income_amount"),
		ExpenseAmountColumn: pick("expense_amount"),
		OperationTypeColumn: pick("operation_type"),
	}
}
