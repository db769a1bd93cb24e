package site

// ServiceTypePerplexity identifies the Perplexity capability.
const ServiceTypePerplexity = "perplexity"

// Perplexity drives app.perplexity.ai. Selectors track the current DOM
// and are expected to need maintenance when the site ships UI changes.
type Perplexity struct{}

func (Perplexity) ServiceType() string { return ServiceTypePerplexity }

func (Perplexity) EntryURL() string { return "https://www.perplexity.ai/" }

func (Perplexity) LocateInput() string { return "textarea[placeholder*='Ask']" }

func (Perplexity) LocateModeToggle() string {
	return "button[data-testid='search-mode-toggle']"
}

func (Perplexity) LocateNewThread() string {
	return "button[data-testid='sidebar-new-thread']"
}

func (Perplexity) LocateCompletionSignal() string {
	// Generation is finished once the stop affordance disappears and at
	// least one answer block is present.
	return `(function() {
		var generating = document.querySelector("button[data-testid='stop-generating-response-button']");
		var answers = document.querySelectorAll("div[data-testid='answer-content']");
		return generating === null && answers.length > 0;
	})()`
}

func (Perplexity) ExtractResult() string {
	return `(function() {
		var answers = document.querySelectorAll("div[data-testid='answer-content']");
		var answer = answers.length > 0 ? answers[answers.length - 1].innerText : "";

		var sources = [];
		document.querySelectorAll("a[data-testid='citation-link']").forEach(function(a) {
			if (a.href) { sources.push(a.href); }
		});

		var related = [];
		document.querySelectorAll("div[data-testid='related-question']").forEach(function(q) {
			related.push(q.innerText);
		});

		return { answer: answer, sources: sources, related_questions: related };
	})()`
}
