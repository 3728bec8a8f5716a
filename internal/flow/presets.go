package flow

import (
	"fmt"
	"os"
	"time"

	"github.com/ashureev/formrelay/internal/validate"
	"gopkg.in/yaml.v3"
)

// Field names shared with the form layout bindings.
const (
	FieldName         = "name"
	FieldEmail        = "email"
	FieldPhone        = "phone"
	FieldDocumentID   = "document_id"
	FieldStreet       = "street"
	FieldCity         = "city"
	FieldState        = "state"
	FieldPostalCode   = "postal_code"
	FieldStreetNumber = "street_number"
	FieldCardNumber   = "card_number"
	FieldCardExpiry   = "card_expiry"
	FieldCardCVV      = "card_cvv"
)

// Preset names.
const (
	PresetRegistration = "registration"
	PresetPayment      = "payment"
)

const documentCheckDelay = 2 * time.Second

func identityFields() []Field {
	return []Field{
		{
			Name:      FieldName,
			Validator: validate.KindName,
			Prompt:    "Olá! Bem-vindo ao nosso serviço de cadastro. Por favor, digite seu nome completo para iniciar.",
			Reject:    "Por favor, insira seu nome completo (nome e sobrenome).",
		},
		{
			Name:      FieldEmail,
			Validator: validate.KindEmail,
			Prompt:    "Obrigado! Agora, por favor, me envie seu e-mail.",
			Reject:    "E-mail inválido. Certifique-se de que ele contém '@' e um domínio.",
		},
		{
			Name:      FieldPhone,
			Validator: validate.KindPhone,
			Prompt:    "Ótimo! Agora, por favor, me envie seu telefone com DDD (exemplo: 11987654321).",
			Reject:    "Número de telefone inválido. Certifique-se de que possui 11 dígitos com DDD, começando com 9.",
		},
		{
			Name:       FieldDocumentID,
			Validator:  validate.KindDocumentID,
			Prompt:     "Perfeito! Agora, por favor, me envie seu CPF (apenas números).",
			Reject:     "CPF inválido. Por favor, verifique o número e tente novamente.",
			Delay:      documentCheckDelay,
			Processing: "Validando o CPF, por favor, aguarde...",
		},
		{
			Name:      FieldStreet,
			Validator: validate.KindNonEmpty,
			Prompt:    "Agora, por favor, me informe seu endereço.",
			Reject:    "Endereço vazio. Por favor, informe o nome da rua.",
		},
		{
			Name:      FieldCity,
			Validator: validate.KindNonEmpty,
			Prompt:    "Informe a cidade.",
			Reject:    "Cidade vazia. Por favor, informe a cidade.",
		},
		{
			Name:      FieldState,
			Validator: validate.KindNonEmpty,
			Prompt:    "Informe o estado.",
			Reject:    "Estado vazio. Por favor, informe o estado.",
		},
		{
			Name:      FieldPostalCode,
			Validator: validate.KindNonEmpty,
			Prompt:    "Por fim, informe o CEP.",
			Reject:    "CEP vazio. Por favor, informe o CEP.",
		},
	}
}

func paymentFields() []Field {
	return []Field{
		{
			Name:      FieldStreetNumber,
			Validator: validate.KindDigits,
			Prompt:    "Por favor, informe o número da sua residência.",
			Reject:    "Número da residência inválido. Por favor, insira apenas números.",
		},
		{
			Name:      FieldCardNumber,
			Validator: validate.KindCardNumber,
			Prompt:    "Agora precisamos dos dados do pagamento. Por favor, insira o número do seu cartão de crédito (16 dígitos).",
			Reject:    "Número de cartão inválido. Por favor, insira exatamente 16 dígitos sem espaços ou caracteres especiais.",
		},
		{
			Name:      FieldCardExpiry,
			Validator: validate.KindCardExpiry,
			Prompt:    "Número do cartão recebido. Agora, informe a validade do cartão no formato MM/AA.",
			Reject:    "Data de validade inválida. Por favor, insira no formato MM/AA.",
		},
		{
			Name:      FieldCardCVV,
			Validator: validate.KindCVV,
			Prompt:    "Agora, informe o CVV (3 dígitos no verso do cartão).",
			Reject:    "CVV inválido. Por favor, insira exatamente 3 dígitos.",
		},
	}
}

// Registration collects identity and address, leaving payment to the
// layout's placeholder values.
func Registration() *Flow {
	f := &Flow{
		Name:    PresetRegistration,
		Fields:  identityFields(),
		Success: "Cadastro finalizado com sucesso! Obrigado.",
		Failure: "Houve um erro durante o cadastro. Tente novamente mais tarde.",
		Busy:    "Estamos processando seus dados. Por favor, aguarde.",
	}
	mustValidate(f)
	return f
}

// Payment additionally collects the street number and card details.
func Payment() *Flow {
	f := &Flow{
		Name:     PresetPayment,
		Fields:   append(identityFields(), paymentFields()...),
		Starting: "Dados recebidos. Iniciando o cadastro...",
		Success:  "Cadastro e pagamento concluídos com sucesso!",
		Failure:  "Houve um erro durante o cadastro. Por favor, tente novamente mais tarde.",
		Busy:     "Estamos processando seus dados. Por favor, aguarde.",
	}
	mustValidate(f)
	return f
}

// Preset returns a built-in flow by name.
func Preset(name string) (*Flow, error) {
	switch name {
	case PresetRegistration, "":
		return Registration(), nil
	case PresetPayment:
		return Payment(), nil
	default:
		return nil, fmt.Errorf("unknown flow preset %q", name)
	}
}

// Load reads a flow definition from a YAML file.
func Load(path string) (*Flow, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read flow file: %w", err)
	}
	return Parse(data)
}

// Parse decodes and validates a YAML flow definition.
func Parse(data []byte) (*Flow, error) {
	var f Flow
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("decode flow: %w", err)
	}
	if err := f.Validate(); err != nil {
		return nil, fmt.Errorf("invalid flow %q: %w", f.Name, err)
	}
	return &f, nil
}

func mustValidate(f *Flow) {
	if err := f.Validate(); err != nil {
		panic("flow: invalid preset " + f.Name + ": " + err.Error())
	}
}
