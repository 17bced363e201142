package knowledge

import "github.com/Kocoro-lab/rfpstudio/internal/models"

// SampleEntries is the built-in seed corpus used by demos and tests.
func SampleEntries() []models.KnowledgeEntry {
	return []models.KnowledgeEntry{
		{Text: "Data encryption at rest and in transit, key management and certificate handling", TeamKey: "sme_team_security", Topic: "encryption", Tags: []string{"security", "encryption"}},
		{Text: "Security certifications such as SOC 2, ISO 27001 and penetration testing reports", TeamKey: "sme_team_security", Topic: "certifications", Tags: []string{"security", "compliance"}},
		{Text: "Identity, single sign-on, multi-factor authentication and access control", TeamKey: "sme_team_security", Topic: "access_control", Tags: []string{"security", "identity"}},
		{Text: "Support hours, service level agreements, response times and escalation paths", TeamKey: "sme_team_support", Topic: "sla", Tags: []string{"support"}},
		{Text: "Customer onboarding, training sessions and customer success management", TeamKey: "sme_team_support", Topic: "onboarding", Tags: []string{"support", "training"}},
		{Text: "Pricing, licensing tiers, discounts and payment terms", TeamKey: "sme_team_sales", Topic: "pricing", Tags: []string{"commercial"}},
		{Text: "Customer references, case studies and company background", TeamKey: "sme_team_sales", Topic: "references", Tags: []string{"commercial"}},
		{Text: "System architecture, scalability, availability and disaster recovery", TeamKey: "sme_team_technical", Topic: "architecture", Tags: []string{"technical"}},
		{Text: "APIs, integrations, data migration and interoperability with existing systems", TeamKey: "sme_team_technical", Topic: "integration", Tags: []string{"technical"}},
		{Text: "Contract terms, liability caps, indemnification and intellectual property", TeamKey: "sme_team_legal", Topic: "contracts", Tags: []string{"legal"}},
		{Text: "Data protection, GDPR, privacy policies and data residency requirements", TeamKey: "sme_team_legal", Topic: "privacy", Tags: []string{"legal", "privacy"}},
	}
}
