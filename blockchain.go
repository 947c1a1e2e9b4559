package main

import (
	"net/http"

	"rng-u01/internal/journal"
)

func (s *server) chainHandler(w http.ResponseWriter, r *http.Request) {
	chain, err := s.store.Chain(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if chain == nil {
		chain = []journal.Entry{}
	}
	writeJSON(w, http.StatusOK, chain)
}

// verifyChainHandler recomputes every link and every record digest.
func (s *server) verifyChainHandler(w http.ResponseWriter, r *http.Request) {
	chain, err := s.store.Chain(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	st := ChainStatus{Valid: true, Entries: len(chain)}
	if err := journal.Verify(r.Context(), s.store); err != nil {
		st.Valid = false
		st.Error = err.Error()
	}
	writeJSON(w, http.StatusOK, st)
}
