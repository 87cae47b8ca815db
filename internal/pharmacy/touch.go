package pharmacy

import "time"

// Every write path stamps LastUpdated explicitly; the store adds no triggers.

// Touch stamps the supplier as written at now.
func (s *Supplier) Touch(now time.Time) {
	if s.CreatedAt.IsZero() {
		s.CreatedAt = now
	}
	s.LastUpdated = now
}

// Touch stamps the drug as written at now.
func (d *Drug) Touch(now time.Time) {
	if d.CreatedAt.IsZero() {
		d.CreatedAt = now
	}
	d.LastUpdated = now
}

// Touch stamps the patient as written at now.
func (p *Patient) Touch(now time.Time) {
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.LastUpdated = now
}

// Touch stamps the prescription as written at now.
func (p *Prescription) Touch(now time.Time) {
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.LastUpdated = now
}
