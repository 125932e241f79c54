package firewall

// Built-in catalog definitions. These ship compiled into the binary so the
// firewall works without any configuration files; a YAML catalog replaces
// them entirely.

func defaultSubjects() []SubjectDef {
	return []SubjectDef{
		{
			Label: "EMAIL",
			// Structural markers (@, domain, TLD) make this unambiguous.
			Patterns:     []string{`[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}`},
			WordBoundary: true,
			Description:  "An email address.",
			Examples:     []string{"john.smith@example.com"},
		},
		{
			Label: "SSN",
			// Hyphenated or bare 9-digit social security numbers.
			Patterns:     []string{`\d{3}-\d{2}-\d{4}`, `\d{9}`},
			WordBoundary: true,
			Description:  "A US social security number.",
			Examples:     []string{"123-45-6789"},
		},
		{
			Label: "CREDIT_CARD",
			// 16-digit block pattern, optionally separated by space or dash.
			Patterns:     []string{`(?:\d{4}[\-\s]?){3}\d{4}`},
			WordBoundary: true,
			Description:  "A payment card number.",
			Examples:     []string{"4111 1111 1111 1111"},
		},
		{
			Label: "ACCOUNT_NUMBER",
			// Requires a keyword so bare digit runs don't fire.
			Patterns:     []string{`(?i)(?:account|acct|IBAN)[#:\s]*[A-Z]{0,2}\d{6,24}`},
			WordBoundary: true,
			Description:  "A bank or brokerage account number, including IBANs.",
			Examples:     []string{"account 00123456789", "IBAN DE89370400440532013000"},
		},
		{
			Label: "CRYPTO_ADDRESS",
			Patterns: []string{
				// Bitcoin legacy base58 and bech32.
				`(?:bc1[a-z0-9]{25,62}|[13][a-km-zA-HJ-NP-Z1-9]{25,34})`,
				// Ethereum.
				`0x[a-fA-F0-9]{40}`,
			},
			WordBoundary: true,
			Description:  "A cryptocurrency wallet address.",
			Examples:     []string{"1A1zP1eP5QGefi2DMPTfTL5SLmv7DivfNa"},
		},
		{
			Label: "PHONE",
			// Broad by design; policy confidence thresholds gate it.
			Patterns:     []string{`(?:\+?1[\-.\s]?)?\(?\d{3}\)?[\-.\s]\d{3}[\-.\s]?\d{4}`},
			WordBoundary: true,
			Description:  "A telephone number.",
			Examples:     []string{"+1 (555) 123-4567"},
		},
		{
			Label:        "IP_ADDRESS",
			Patterns:     []string{`(?:25[0-5]|2[0-4]\d|1\d\d|[1-9]?\d)(?:\.(?:25[0-5]|2[0-4]\d|1\d\d|[1-9]?\d)){3}`},
			WordBoundary: true,
			Description:  "An IPv4 address.",
			Examples:     []string{"192.168.1.1"},
		},
		{
			// No patterns: PERSON detection is oracle-only.
			Label:       "PERSON",
			Description: "The name of a natural person, including titles such as Dr. or Mrs.",
			Examples:    []string{"John Smith", "Dr. Jane Doe"},
		},
		{
			Label:       "COMPANY",
			Description: "The name of a company, organization, or firm.",
			Examples:    []string{"Acme Inc", "Smith & Associates"},
		},
	}
}

func defaultPredicates() []PredicateDef {
	return []PredicateDef{
		{
			Label:      "FINANCIAL_EVENT",
			Definition: "A corporate financial event such as an IPO, merger, acquisition, bankruptcy filing, or funding round.",
			Examples: []string{
				"filed for an IPO",
				"acquired by",
				"raised a Series B",
			},
			RelatedSubjects: []string{"COMPANY", "PERSON"},
		},
		{
			Label:      "WIRE_TRANSFER",
			Definition: "A transfer of funds between accounts or parties, including wires, ACH transfers, and payments.",
			Examples: []string{
				"wired $50,000 to",
				"transferred the funds",
			},
			RelatedSubjects: []string{"PERSON", "COMPANY", "ACCOUNT_NUMBER", "CRYPTO_ADDRESS"},
		},
	}
}
